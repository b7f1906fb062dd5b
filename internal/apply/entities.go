package apply

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/resolve"
)

// entityMerge is what one entity-list proposal contributed besides its value.
type entityMerge struct {
	log     []model.MergeOperation
	invalid int
}

// mergeEntities computes the candidate value for an entity-list proposal:
// the incoming profiles are sanitized, filtered against the graph's own
// company, and merged into the field's current list.
func (e *Engine) mergeEntities(g *model.ContextGraph, path model.Path, incoming any) (any, entityMerge, error) {
	proposed, err := model.DecodeProfiles(incoming)
	if err != nil {
		return nil, entityMerge{}, eris.Wrapf(err, "apply: decode %s", path)
	}

	var current []model.CompetitorProfile
	if f, ok := model.Get(g, path); ok {
		current, err = model.DecodeProfiles(f.Value)
		if err != nil {
			return nil, entityMerge{}, eris.Wrapf(err, "apply: decode stored %s", path)
		}
	}

	clean, invalid := resolve.Sanitize(proposed)
	kept, skipped := e.resolver.FilterCompetitors(clean, resolve.CompanyOf(g))
	stats := e.resolver.MergeIntoExisting(current, kept)

	info := entityMerge{
		log:     append(append([]model.MergeOperation(nil), skipped...), stats.Log...),
		invalid: invalid + stats.Invalid,
	}
	zap.L().Debug("apply: merged entity list",
		zap.String("company_id", g.CompanyID),
		zap.String("path", path.String()),
		zap.Int("added", stats.Added),
		zap.Int("merged", stats.Merged),
		zap.Int("fields_changed", stats.FieldsChanged),
		zap.Int("filtered", len(skipped)),
		zap.Int("invalid", info.invalid),
	)

	value, err := model.EncodeProfiles(stats.Result)
	if err != nil {
		return nil, entityMerge{}, err
	}
	return value, info, nil
}
