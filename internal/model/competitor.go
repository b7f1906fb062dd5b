package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CompetitorProvenance records which contributor supplied a profile attribute.
// Field "*" denotes the whole record.
type CompetitorProvenance struct {
	Field      string  `json:"field"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	RunID      string  `json:"run_id,omitempty"`
}

// CompetitorProfile is one competitor entry in the competitive domain.
type CompetitorProfile struct {
	Name          string                 `json:"name"`
	Domain        string                 `json:"domain,omitempty"`
	Website       string                 `json:"website,omitempty"`
	Category      string                 `json:"category,omitempty"`
	Positioning   string                 `json:"positioning,omitempty"`
	PricingNotes  string                 `json:"pricing_notes,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
	Strengths     []string               `json:"strengths,omitempty"`
	Weaknesses    []string               `json:"weaknesses,omitempty"`
	UniqueClaims  []string               `json:"unique_claims,omitempty"`
	Offers        []string               `json:"offers,omitempty"`
	XPosition     *float64               `json:"x_position,omitempty"` // [-100,100]
	YPosition     *float64               `json:"y_position,omitempty"` // [-100,100]
	Confidence    float64                `json:"confidence"`
	Trajectory    string                 `json:"trajectory,omitempty"`
	ThreatLevel   *float64               `json:"threat_level,omitempty"` // [0,100]
	ThreatDrivers []string               `json:"threat_drivers,omitempty"`
	AutoSeeded    bool                   `json:"auto_seeded"`
	Provenance    []CompetitorProvenance `json:"provenance,omitempty"`
}

// Valid reports whether the profile has the attributes required for
// resolution. A profile without a name cannot be matched.
func (c CompetitorProfile) Valid() bool {
	return strings.TrimSpace(c.Name) != ""
}

// DecodeProfiles converts a generic JSON value (as stored in a Field or
// received in a proposal) into competitor profiles. A nil value yields no
// profiles.
func DecodeProfiles(v any) ([]CompetitorProfile, error) {
	if v == nil {
		return nil, nil
	}
	if typed, ok := v.([]CompetitorProfile); ok {
		return typed, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal profiles")
	}
	var out []CompetitorProfile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "model: unmarshal profiles")
	}
	return out, nil
}

// EncodeProfiles converts profiles into the generic JSON form stored in a
// Field value.
func EncodeProfiles(profiles []CompetitorProfile) (any, error) {
	if profiles == nil {
		profiles = []CompetitorProfile{}
	}
	v, err := Normalize(profiles)
	if err != nil {
		return nil, eris.Wrap(err, "model: encode profiles")
	}
	return v, nil
}

// MergeKind classifies an entity-resolution log entry.
type MergeKind string

const (
	MergeKindMerge MergeKind = "merge"
	MergeKindAdd   MergeKind = "add"
	MergeKindSkip  MergeKind = "skip"
)

// MergeOperation is one entry of the entity-resolution audit log.
type MergeOperation struct {
	Kind       MergeKind `json:"kind"`
	SubjectA   string    `json:"subject_a"`
	SubjectB   string    `json:"subject_b,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
