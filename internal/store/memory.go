package store

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/context-graph/internal/model"
)

// CreatedBy is the writer tag recorded for a graph's first revision when
// the graph does not name one.
const CreatedBy = "create"

type memoryRecord struct {
	graph     *model.ContextGraph
	revisions []Revision
}

// MemoryStore keeps graphs in process memory. Graphs are deep-copied on the
// way in and out.
type MemoryStore struct {
	mu     sync.Mutex
	graphs map[string]*memoryRecord
	now    func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		graphs: make(map[string]*memoryRecord),
		now:    time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, companyID string) (*model.ContextGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.graphs[companyID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: load %s", companyID)
	}
	return rec.graph.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	if err := validateGraph(g); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.graphs[g.CompanyID]
	if !ok {
		return 0, eris.Wrapf(ErrNotFound, "memory: save %s", g.CompanyID)
	}
	if rec.graph.Version != g.Version {
		return 0, eris.Wrapf(ErrVersionConflict, "memory: save %s at version %d, stored %d",
			g.CompanyID, g.Version, rec.graph.Version)
	}

	next := g.Version + 1
	now := s.now().UTC()
	stamp(g, next, writerTag, now)
	rec.graph = g.Clone()
	rec.revisions = append(rec.revisions, Revision{CompanyID: g.CompanyID, Version: next, UpdatedBy: writerTag, UpdatedAt: now})
	return next, nil
}

func (s *MemoryStore) Create(_ context.Context, g *model.ContextGraph) error {
	if err := validateGraph(g); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graphs[g.CompanyID]; ok {
		return eris.Wrapf(ErrAlreadyExists, "memory: create %s", g.CompanyID)
	}

	writer := g.UpdatedBy
	if writer == "" {
		writer = CreatedBy
	}
	now := s.now().UTC()
	stamp(g, 1, writer, now)
	s.graphs[g.CompanyID] = &memoryRecord{
		graph:     g.Clone(),
		revisions: []Revision{{CompanyID: g.CompanyID, Version: 1, UpdatedBy: writer, UpdatedAt: now}},
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, companyID string, limit int) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.graphs[companyID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: history %s", companyID)
	}

	limit = historyLimit(limit)
	out := make([]Revision, 0, min(limit, len(rec.revisions)))
	for i := len(rec.revisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rec.revisions[i])
	}
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
