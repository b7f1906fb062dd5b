package model

import "strings"

// SourceTag identifies the writer behind a provenance entry.
type SourceTag string

// Human sources.
const (
	SourceUser        SourceTag = "human:user"
	SourceManual      SourceTag = "human:manual"
	SourceQBR         SourceTag = "human:qbr"
	SourceStrategy    SourceTag = "human:strategy"
	SourceSetupWizard SourceTag = "human:setup_wizard"
)

// Authoritative pipeline sources.
const (
	SourceGapHeavy SourceTag = "pipeline:gap_heavy"
)

// Lab sources.
const (
	SourceLabAudience   SourceTag = "lab:audience"
	SourceLabBrand      SourceTag = "lab:brand"
	SourceLabCreative   SourceTag = "lab:creative"
	SourceLabCompetitor SourceTag = "lab:competitor"
	SourceLabWebsite    SourceTag = "lab:website"
)

// SourceUnknown is assigned to anything that is not a recognised source.
const SourceUnknown SourceTag = "unknown"

// Tier is the authority class of a source. Higher values win.
type Tier int

const (
	TierUnknown Tier = iota
	TierLab
	TierPipeline
	TierHuman
)

func (t Tier) String() string {
	switch t {
	case TierHuman:
		return "human"
	case TierPipeline:
		return "pipeline"
	case TierLab:
		return "lab"
	default:
		return "unknown"
	}
}

var sourceTiers = map[SourceTag]Tier{
	SourceUser:          TierHuman,
	SourceManual:        TierHuman,
	SourceQBR:           TierHuman,
	SourceStrategy:      TierHuman,
	SourceSetupWizard:   TierHuman,
	SourceGapHeavy:      TierPipeline,
	SourceLabAudience:   TierLab,
	SourceLabBrand:      TierLab,
	SourceLabCreative:   TierLab,
	SourceLabCompetitor: TierLab,
	SourceLabWebsite:    TierLab,
	SourceUnknown:       TierUnknown,
}

// AllSources lists every known source, highest priority first.
var AllSources = []SourceTag{
	SourceUser, SourceManual, SourceQBR, SourceStrategy, SourceSetupWizard,
	SourceGapHeavy,
	SourceLabAudience, SourceLabBrand, SourceLabCreative, SourceLabCompetitor, SourceLabWebsite,
	SourceUnknown,
}

// ParseSourceTag maps a string to a known SourceTag. Matching is
// case-insensitive; anything unrecognised becomes SourceUnknown.
func ParseSourceTag(s string) SourceTag {
	tag := SourceTag(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sourceTiers[tag]; ok {
		return tag
	}
	return SourceUnknown
}

// Valid reports whether s is one of the known source tags.
func (s SourceTag) Valid() bool {
	_, ok := sourceTiers[s]
	return ok
}

// Tier returns the authority tier of s.
func (s SourceTag) Tier() Tier {
	return sourceTiers[s]
}

// IsHuman reports whether s belongs to the human tier.
func (s SourceTag) IsHuman() bool {
	return s.Tier() == TierHuman
}

// Outranks reports whether s sits in a strictly higher tier than other.
func (s SourceTag) Outranks(other SourceTag) bool {
	return s.Tier() > other.Tier()
}
