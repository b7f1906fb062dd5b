package authority

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/registry"
)

const industry = "identity.industry"

func newGraph() *model.ContextGraph {
	return registry.Default().NewGraph("c1", "Acme", "acme.com")
}

func seed(g *model.ContextGraph, path string, value any, source model.SourceTag, conf float64) {
	p, err := model.ParsePath(path)
	if err != nil {
		panic(err)
	}
	model.Set(g, p, value, model.ProvenanceEntry{Source: source, Confidence: conf})
}

func proposal(path string, value any, conf float64) model.RefinementProposal {
	return model.RefinementProposal{Path: path, NewValue: value, Confidence: conf}
}

func TestCheck_Steps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(g *model.ContextGraph)
		prop   model.RefinementProposal
		writer model.SourceTag
		want   Decision
	}{
		{
			name:   "malformed path",
			prop:   proposal("industry", "SaaS", 0.9),
			writer: model.SourceLabBrand,
			want:   SkipInvalidPath,
		},
		{
			name:   "unknown field",
			prop:   proposal("identity.favorite_color", "blue", 0.9),
			writer: model.SourceLabBrand,
			want:   SkipInvalidPath,
		},
		{
			name:   "deprecated field",
			prop:   proposal("identity.legacy_segment", "smb", 0.9),
			writer: model.SourceLabBrand,
			want:   SkipInvalidPath,
		},
		{
			name:   "domain container missing",
			setup:  func(g *model.ContextGraph) { delete(g.Domains, "identity") },
			prop:   proposal(industry, "SaaS", 0.9),
			writer: model.SourceLabBrand,
			want:   SkipInvalidPath,
		},
		{
			name:   "first write wins",
			prop:   proposal(industry, "SaaS", 0.1),
			writer: model.SourceUnknown,
			want:   Apply,
		},
		{
			name:   "human owned",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "Software", model.SourceManual, 0.1) },
			prop:   proposal(industry, "Services", 1.0),
			writer: model.SourceGapHeavy,
			want:   SkipHumanOverride,
		},
		{
			name:   "human owned blocks humans too",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "Software", model.SourceUser, 0.1) },
			prop:   proposal(industry, "Services", 1.0),
			writer: model.SourceStrategy,
			want:   SkipHumanOverride,
		},
		{
			name:   "pipeline outranks lab",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "Fintech", model.SourceGapHeavy, 0.2) },
			prop:   proposal(industry, "Banking", 1.0),
			writer: model.SourceLabAudience,
			want:   SkipHigherPriority,
		},
		{
			name:   "lab outranks unknown",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "Fintech", model.SourceLabBrand, 0.2) },
			prop:   proposal(industry, "Banking", 1.0),
			writer: model.SourceUnknown,
			want:   SkipHigherPriority,
		},
		{
			name:   "same value same confidence",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 0.8) },
			prop:   proposal(industry, "SaaS", 0.8),
			writer: model.SourceLabBrand,
			want:   SkipUnchanged,
		},
		{
			name:   "same value higher confidence",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 0.5) },
			prop:   proposal(industry, "SaaS", 0.9),
			writer: model.SourceLabBrand,
			want:   Apply,
		},
		{
			name:   "lower confidence blocks different value",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 0.5) },
			prop:   proposal(industry, "Marketplace", 0.3),
			writer: model.SourceLabCreative,
			want:   SkipUnchanged,
		},
		{
			name:   "lower confidence over empty value",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "", model.SourceLabBrand, 0.5) },
			prop:   proposal(industry, "Marketplace", 0.3),
			writer: model.SourceLabBrand,
			want:   Apply,
		},
		{
			name:   "same tier equal confidence different value",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 0.5) },
			prop:   proposal(industry, "Marketplace", 0.5),
			writer: model.SourceLabWebsite,
			want:   Apply,
		},
		{
			name:   "pipeline replaces lab",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 0.9) },
			prop:   proposal(industry, "Marketplace", 0.95),
			writer: model.SourceGapHeavy,
			want:   Apply,
		},
		{
			name:   "object equality ignores key order",
			setup:  func(g *model.ContextGraph) { seed(g, "audience.personas", map[string]any{"a": 1, "b": 2}, model.SourceLabAudience, 0.6) },
			prop:   proposal("audience.personas", map[string]any{"b": 2.0, "a": 1.0}, 0.6),
			writer: model.SourceLabAudience,
			want:   SkipUnchanged,
		},
		{
			name:   "confidence above one is clamped",
			setup:  func(g *model.ContextGraph) { seed(g, industry, "SaaS", model.SourceLabBrand, 1.0) },
			prop:   proposal(industry, "SaaS", 7),
			writer: model.SourceLabBrand,
			want:   SkipUnchanged,
		},
	}

	checker := NewChecker(registry.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGraph()
			if tt.setup != nil {
				tt.setup(g)
			}
			v := checker.Check(g, tt.prop, tt.writer)
			assert.Equal(t, tt.want, v.Decision, v.Reason)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestCheck_NilValidatorAcceptsWellFormedPaths(t *testing.T) {
	g := model.NewContextGraph("c1", "Acme", "", "custom")
	v := NewChecker(nil).Check(g, proposal("custom.anything", 1, 0.5), model.SourceLabBrand)
	assert.Equal(t, Apply, v.Decision)
	assert.Equal(t, model.Path{Domain: "custom", Field: "anything"}, v.Path)

	v = NewChecker(nil).Check(g, proposal("custom", 1, 0.5), model.SourceLabBrand)
	assert.Equal(t, SkipInvalidPath, v.Decision)
}

func TestCheck_EmptyProvenanceIsUnknownOwner(t *testing.T) {
	g := newGraph()
	g.Domains["identity"]["industry"] = &model.Field{Value: "SaaS"}

	v := NewChecker(registry.Default()).Check(g, proposal(industry, "Marketplace", 0.1), model.SourceLabBrand)
	assert.Equal(t, Apply, v.Decision)
	require.NotNil(t, v.Existing)
	assert.Equal(t, "SaaS", v.Existing.Value)
}

func TestCheck_ScenarioNewField(t *testing.T) {
	g := newGraph()
	v := NewChecker(registry.Default()).Check(g, proposal("identity.business_model", "SaaS Platform", 0.8), model.SourceLabBrand)
	assert.Equal(t, Apply, v.Decision)
	assert.Nil(t, v.Existing)
}

func TestCheck_ScenarioBlockedByHuman(t *testing.T) {
	g := newGraph()
	seed(g, industry, "Software", model.SourceManual, 0.5)

	v := NewChecker(registry.Default()).Check(g, proposal(industry, "Services", 0.99), model.SourceLabAudience)
	assert.Equal(t, SkipHumanOverride, v.Decision)
	assert.Equal(t, "Software", v.Existing.Value)
}

func TestCheck_ConfidenceGatedOverwrite(t *testing.T) {
	g := newGraph()
	seed(g, "objectives.budget", 10, model.SourceLabBrand, 0.5)

	v := NewChecker(registry.Default()).Check(g, proposal("objectives.budget", 20, 0.3), model.SourceLabBrand)
	assert.Equal(t, SkipUnchanged, v.Decision)
}

func TestCheck_HumanOwnedNeverApplies(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	humans := []model.SourceTag{model.SourceUser, model.SourceManual, model.SourceQBR, model.SourceStrategy, model.SourceSetupWizard}
	values := []any{"", "SaaS", 42, 0.5, true, nil, []any{"a", "b"}, map[string]any{"k": "v"}}
	checker := NewChecker(registry.Default())

	for i := 0; i < 500; i++ {
		g := newGraph()
		seed(g, industry, values[rng.IntN(len(values))], humans[rng.IntN(len(humans))], rng.Float64())

		writer := model.AllSources[rng.IntN(len(model.AllSources))]
		p := proposal(industry, values[rng.IntN(len(values))], rng.Float64()*1.5)

		v := checker.Check(g, p, writer)
		require.Equal(t, SkipHumanOverride, v.Decision, "iteration %d writer %s", i, writer)
	}
}

func TestCheck_PipelineNeverOverwrittenByLab(t *testing.T) {
	labs := []model.SourceTag{
		model.SourceLabAudience, model.SourceLabBrand, model.SourceLabCreative,
		model.SourceLabCompetitor, model.SourceLabWebsite,
	}
	checker := NewChecker(registry.Default())

	for _, lab := range labs {
		g := newGraph()
		seed(g, industry, "Fintech", model.SourceGapHeavy, 0.01)
		v := checker.Check(g, proposal(industry, "Banking", 1.0), lab)
		assert.Equal(t, SkipHigherPriority, v.Decision, lab)
	}
}

func TestDecision_Outcome(t *testing.T) {
	assert.Equal(t, model.OutcomeUpdated, Apply.Outcome())
	assert.Equal(t, model.OutcomeSkippedHumanOverride, SkipHumanOverride.Outcome())
	assert.Equal(t, model.OutcomeSkippedHigherPriority, SkipHigherPriority.Outcome())
	assert.Equal(t, model.OutcomeSkippedUnchanged, SkipUnchanged.Outcome())
	assert.Equal(t, model.OutcomeSkippedInvalidPath, SkipInvalidPath.Outcome())
	assert.Equal(t, model.OutcomeError, Decision("bogus").Outcome())
}
