package model

// RefinementProposal is a candidate write produced by a lab run. It is
// consumed by the apply engine and never persisted.
type RefinementProposal struct {
	Path       string  `json:"path"`
	NewValue   any     `json:"new_value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// OutcomeStatus is the result of applying one proposal.
type OutcomeStatus string

const (
	OutcomeUpdated               OutcomeStatus = "updated"
	OutcomeSkippedHumanOverride  OutcomeStatus = "skipped_human_override"
	OutcomeSkippedHigherPriority OutcomeStatus = "skipped_higher_priority"
	OutcomeSkippedUnchanged      OutcomeStatus = "skipped_unchanged"
	OutcomeSkippedInvalidPath    OutcomeStatus = "skipped_invalid_path"
	OutcomeError                 OutcomeStatus = "error"
)

// ApplyOutcome reports what happened to one proposal.
type ApplyOutcome struct {
	Path          string        `json:"path"`
	Status        OutcomeStatus `json:"status"`
	PreviousValue any           `json:"previous_value,omitempty"`
	NewValue      any           `json:"new_value,omitempty"`
	Confidence    float64       `json:"confidence"`
	Reason        string        `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	// InvalidEntities counts malformed profiles dropped from an entity-list
	// proposal.
	InvalidEntities int `json:"invalid_entities,omitempty"`
}

// ApplyResult aggregates the outcomes of one batch.
type ApplyResult struct {
	CompanyID             string         `json:"company_id"`
	RunID                 string         `json:"run_id"`
	Writer                SourceTag      `json:"writer"`
	DryRun                bool           `json:"dry_run"`
	Attempted             int            `json:"attempted"`
	Updated               int            `json:"updated"`
	SkippedHumanOverride  int            `json:"skipped_human_override"`
	SkippedHigherPriority int            `json:"skipped_higher_priority"`
	SkippedUnchanged      int            `json:"skipped_unchanged"`
	SkippedInvalidPath    int            `json:"skipped_invalid_path"`
	Errors                int            `json:"errors"`
	InvalidEntities       int            `json:"invalid_entities"`
	Version               int64          `json:"version"`
	Outcomes              []ApplyOutcome `json:"outcomes"`
}

// Tally recomputes the aggregate counts from Outcomes.
func (r *ApplyResult) Tally() {
	r.Attempted = len(r.Outcomes)
	r.Updated, r.SkippedHumanOverride, r.SkippedHigherPriority = 0, 0, 0
	r.SkippedUnchanged, r.SkippedInvalidPath, r.Errors = 0, 0, 0
	r.InvalidEntities = 0
	for _, o := range r.Outcomes {
		r.InvalidEntities += o.InvalidEntities
		switch o.Status {
		case OutcomeUpdated:
			r.Updated++
		case OutcomeSkippedHumanOverride:
			r.SkippedHumanOverride++
		case OutcomeSkippedHigherPriority:
			r.SkippedHigherPriority++
		case OutcomeSkippedUnchanged:
			r.SkippedUnchanged++
		case OutcomeSkippedInvalidPath:
			r.SkippedInvalidPath++
		case OutcomeError:
			r.Errors++
		}
	}
}

// FailPending rewrites every Updated outcome as an Error with msg and
// recomputes the counts. Used when persistence did not succeed.
func (r *ApplyResult) FailPending(msg string) {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == OutcomeUpdated {
			r.Outcomes[i].Status = OutcomeError
			r.Outcomes[i].Error = msg
		}
	}
	r.Tally()
}
