package apply

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/store"
)

// --- GraphStore Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context, companyID string) (*model.ContextGraph, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContextGraph).Clone(), args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	args := m.Called(ctx, g, writerTag)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Create(ctx context.Context, g *model.ContextGraph) error {
	return m.Called(ctx, g).Error(0)
}

func (m *mockStore) History(ctx context.Context, companyID string, limit int) ([]store.Revision, error) {
	args := m.Called(ctx, companyID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Revision), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockStore) Close() error { return m.Called().Error(0) }

// --- Hooked memory store ---

// hookedStore wraps a MemoryStore and runs beforeSave ahead of every save,
// which lets a test simulate a writer racing in from another process.
type hookedStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	saves      int
	beforeSave func(n int)
}

func newHookedStore() *hookedStore {
	return &hookedStore{MemoryStore: store.NewMemory()}
}

func (h *hookedStore) Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	h.mu.Lock()
	h.saves++
	n := h.saves
	hook := h.beforeSave
	h.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return h.MemoryStore.Save(ctx, g, writerTag)
}

func (h *hookedStore) saveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saves
}
