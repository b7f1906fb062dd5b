// Package authority decides whether a proposed field write may land on a
// context graph, based on the provenance of the value it would replace.
package authority

import (
	"fmt"

	"github.com/sells-group/context-graph/internal/model"
)

// Decision is the outcome of an authority check.
type Decision string

const (
	Apply              Decision = "apply"
	SkipHumanOverride  Decision = "skip_human_override"
	SkipHigherPriority Decision = "skip_higher_priority"
	SkipUnchanged      Decision = "skip_unchanged"
	SkipInvalidPath    Decision = "skip_invalid_path"
)

// Outcome maps a decision to the apply outcome it produces.
func (d Decision) Outcome() model.OutcomeStatus {
	switch d {
	case Apply:
		return model.OutcomeUpdated
	case SkipHumanOverride:
		return model.OutcomeSkippedHumanOverride
	case SkipHigherPriority:
		return model.OutcomeSkippedHigherPriority
	case SkipUnchanged:
		return model.OutcomeSkippedUnchanged
	case SkipInvalidPath:
		return model.OutcomeSkippedInvalidPath
	default:
		return model.OutcomeError
	}
}

// Verdict is a decision plus the context it was made in.
type Verdict struct {
	Decision Decision
	Reason   string
	Path     model.Path
	Existing *model.Field
}

// PathValidator is the schema predicate consulted before anything else.
type PathValidator interface {
	IsValidPath(path string) bool
}

// Checker evaluates proposals against a graph.
type Checker struct {
	paths PathValidator
}

// NewChecker creates a Checker. A nil validator accepts every well-formed
// path.
func NewChecker(paths PathValidator) *Checker {
	return &Checker{paths: paths}
}

// Check classifies one proposal written by writer. The rules are evaluated
// in order and the first match wins:
//
//  1. path rejected by the schema          -> SkipInvalidPath
//  2. domain container absent from graph   -> SkipInvalidPath
//  3. no field at the path                 -> Apply
//  4. field owned by a human source        -> SkipHumanOverride
//  5. field owner outranks the writer      -> SkipHigherPriority
//  6. same value, confidence not higher    -> SkipUnchanged
//  7. lower confidence over a non-empty value -> SkipUnchanged
//  8. otherwise                            -> Apply
//
// proposal.NewValue is the candidate value; entity lists must already be
// merged by the caller.
func (c *Checker) Check(g *model.ContextGraph, proposal model.RefinementProposal, writer model.SourceTag) Verdict {
	path, err := model.ParsePath(proposal.Path)
	if err != nil || (c.paths != nil && !c.paths.IsValidPath(path.String())) {
		return Verdict{Decision: SkipInvalidPath, Path: path, Reason: fmt.Sprintf("unknown field %q", proposal.Path)}
	}
	if !g.HasDomain(path.Domain) {
		return Verdict{Decision: SkipInvalidPath, Path: path, Reason: fmt.Sprintf("domain %q not present", path.Domain)}
	}

	existing, ok := model.Get(g, path)
	if !ok {
		return Verdict{Decision: Apply, Path: path, Reason: "new field"}
	}

	v := Verdict{Path: path, Existing: existing}
	owner := existing.Source()
	current := existing.Confidence()
	incoming := model.ClampConfidence(proposal.Confidence)

	switch {
	case owner.IsHuman():
		v.Decision = SkipHumanOverride
		v.Reason = fmt.Sprintf("set by %s", owner)
	case owner.Tier() > writer.Tier():
		v.Decision = SkipHigherPriority
		v.Reason = fmt.Sprintf("%s outranks %s", owner, writer)
	case model.Equal(existing.Value, proposal.NewValue) && incoming <= current:
		v.Decision = SkipUnchanged
		v.Reason = "value unchanged"
	case incoming < current && model.HasValue(existing.Value):
		v.Decision = SkipUnchanged
		v.Reason = fmt.Sprintf("confidence %.2f below current %.2f", incoming, current)
	default:
		v.Decision = Apply
		v.Reason = fmt.Sprintf("replaces %s at %.2f", owner, current)
	}
	return v
}
