package model

import (
	"fmt"
	"strings"
	"time"
)

// ProvenanceEntry records who wrote a field value, how confident they were,
// and when. RunID and Notes are audit-only.
type ProvenanceEntry struct {
	Source     SourceTag `json:"source"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
	RunID      string    `json:"run_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Explain renders a field's provenance chain, most recent first, for audit
// display.
func Explain(f *Field) []string {
	if f == nil {
		return nil
	}
	lines := make([]string, 0, len(f.Provenance))
	for i, p := range f.Provenance {
		var b strings.Builder
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s %s confidence=%.2f", marker, p.UpdatedAt.UTC().Format(time.RFC3339), p.Source, p.Confidence)
		if p.RunID != "" {
			fmt.Fprintf(&b, " run=%s", p.RunID)
		}
		if p.Notes != "" {
			fmt.Fprintf(&b, " notes=%q", p.Notes)
		}
		lines = append(lines, b.String())
	}
	return lines
}
