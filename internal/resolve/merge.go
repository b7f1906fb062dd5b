package resolve

import (
	"math"
	"strings"

	"github.com/sells-group/context-graph/internal/model"
)

// MergeSource tags the synthetic provenance entry added by MergeRecord.
const MergeSource = "merge"

// MergeRecord folds b into a. The result is deterministic:
//   - identity and classification (name, domain, website, category,
//     trajectory): a's value when present, else b's
//   - free text (positioning, pricing notes, notes): the longer non-empty one
//   - positions and threat level: confidence-weighted average, 2 decimals
//   - lists: set union, a's entries first
//   - confidence: the max; auto-seeded only if both were
//   - provenance: both lists plus one "merge" entry
func MergeRecord(a, b model.CompetitorProfile) model.CompetitorProfile {
	out := model.CompetitorProfile{
		Name:         preferFirst(a.Name, b.Name),
		Domain:       preferFirst(a.Domain, b.Domain),
		Website:      preferFirst(a.Website, b.Website),
		Category:     preferFirst(a.Category, b.Category),
		Trajectory:   preferFirst(a.Trajectory, b.Trajectory),
		Positioning:  longer(a.Positioning, b.Positioning),
		PricingNotes: longer(a.PricingNotes, b.PricingNotes),
		Notes:        longer(a.Notes, b.Notes),

		Strengths:     union(a.Strengths, b.Strengths),
		Weaknesses:    union(a.Weaknesses, b.Weaknesses),
		UniqueClaims:  union(a.UniqueClaims, b.UniqueClaims),
		Offers:        union(a.Offers, b.Offers),
		ThreatDrivers: union(a.ThreatDrivers, b.ThreatDrivers),

		XPosition:   weighted(a.XPosition, b.XPosition, a.Confidence, b.Confidence),
		YPosition:   weighted(a.YPosition, b.YPosition, a.Confidence, b.Confidence),
		ThreatLevel: weighted(a.ThreatLevel, b.ThreatLevel, a.Confidence, b.Confidence),

		Confidence: math.Max(a.Confidence, b.Confidence),
		AutoSeeded: a.AutoSeeded && b.AutoSeeded,
	}

	prov := make([]model.CompetitorProvenance, 0, len(a.Provenance)+len(b.Provenance)+1)
	prov = append(prov, a.Provenance...)
	prov = append(prov, b.Provenance...)
	prov = append(prov, model.CompetitorProvenance{
		Field:      "*",
		Source:     MergeSource,
		Confidence: out.Confidence,
	})
	out.Provenance = prov

	return out
}

func preferFirst(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func longer(a, b string) string {
	if len(strings.TrimSpace(b)) > len(strings.TrimSpace(a)) {
		return b
	}
	return a
}

// union merges two string lists, dropping blanks and case-insensitive
// duplicates. The first spelling seen is kept.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// weighted returns the confidence-weighted average of a and b rounded to two
// decimals. With both confidences zero it is the plain mean; with one side
// missing it is the other side.
func weighted(a, b *float64, confA, confB float64) *float64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := round2(*b)
		return &v
	case b == nil:
		v := round2(*a)
		return &v
	}

	var v float64
	if total := confA + confB; total > 0 {
		v = (*a*confA + *b*confB) / total
	} else {
		v = (*a + *b) / 2
	}
	v = round2(v)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
