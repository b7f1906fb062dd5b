// Package store persists context graphs. Every backend issues a version
// token on load and saves with compare-and-swap on that token, so two
// writers racing on the same company cannot silently discard each other.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/context-graph/internal/model"
)

var (
	// ErrNotFound is returned when no graph exists for a company.
	ErrNotFound = eris.New("store: graph not found")
	// ErrVersionConflict is returned by Save when the stored version has
	// advanced past the version the caller loaded.
	ErrVersionConflict = eris.New("store: version conflict")
	// ErrAlreadyExists is returned by Create for an existing company.
	ErrAlreadyExists = eris.New("store: graph already exists")
)

// Revision is one persisted write of a graph.
type Revision struct {
	CompanyID string    `json:"company_id"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphStore is the document store behind the apply engine.
type GraphStore interface {
	// Load returns a private copy of the graph with its current Version.
	Load(ctx context.Context, companyID string) (*model.ContextGraph, error)
	// Save writes g if the stored version still equals g.Version. On
	// success g carries the new version, writer and timestamp.
	Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error)
	// Create stores a new graph at version 1.
	Create(ctx context.Context, g *model.ContextGraph) error
	// History lists the most recent revisions, newest first. A non-positive
	// limit means DefaultHistoryLimit.
	History(ctx context.Context, companyID string, limit int) ([]Revision, error)

	Migrate(ctx context.Context) error
	Close() error
}

// BulkCreator is implemented by stores with a faster path for seeding many
// graphs at once.
type BulkCreator interface {
	BulkCreate(ctx context.Context, graphs []*model.ContextGraph) (int64, error)
}

// DefaultHistoryLimit bounds History results.
const DefaultHistoryLimit = 50

// CreateAll seeds graphs, using the store's bulk path when it has one.
func CreateAll(ctx context.Context, s GraphStore, graphs []*model.ContextGraph) (int64, error) {
	if bc, ok := s.(BulkCreator); ok {
		return bc.BulkCreate(ctx, graphs)
	}
	var n int64
	for _, g := range graphs {
		if err := s.Create(ctx, g); err != nil {
			return n, eris.Wrapf(err, "store: create %s", g.CompanyID)
		}
		n++
	}
	return n, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// stamp records a successful write on g.
func stamp(g *model.ContextGraph, version int64, writer string, at time.Time) {
	g.Version = version
	g.UpdatedBy = writer
	g.UpdatedAt = at
}

func validateGraph(g *model.ContextGraph) error {
	if g == nil || g.CompanyID == "" {
		return eris.New("store: graph requires a company id")
	}
	return nil
}
