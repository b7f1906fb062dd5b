package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyResult_TallyAndFailPending(t *testing.T) {
	t.Parallel()

	r := &ApplyResult{Outcomes: []ApplyOutcome{
		{Path: "a.b", Status: OutcomeUpdated},
		{Path: "a.c", Status: OutcomeSkippedHumanOverride},
		{Path: "a.d", Status: OutcomeSkippedHigherPriority},
		{Path: "a.e", Status: OutcomeSkippedUnchanged},
		{Path: "a.f", Status: OutcomeSkippedInvalidPath},
		{Path: "a.g", Status: OutcomeUpdated, InvalidEntities: 2},
	}}
	r.Tally()

	assert.Equal(t, 6, r.Attempted)
	assert.Equal(t, 2, r.Updated)
	assert.Equal(t, 1, r.SkippedHumanOverride)
	assert.Equal(t, 1, r.SkippedHigherPriority)
	assert.Equal(t, 1, r.SkippedUnchanged)
	assert.Equal(t, 1, r.SkippedInvalidPath)
	assert.Equal(t, 0, r.Errors)
	assert.Equal(t, 2, r.InvalidEntities)

	r.FailPending("store: save failed")
	assert.Equal(t, 0, r.Updated)
	assert.Equal(t, 2, r.Errors)
	assert.Equal(t, "store: save failed", r.Outcomes[0].Error)
	assert.Equal(t, OutcomeSkippedHumanOverride, r.Outcomes[1].Status)
}
