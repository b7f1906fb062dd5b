package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/context-graph/internal/db"
	"github.com/sells-group/context-graph/internal/model"
)

var _ db.Pool = (*pgxpool.Pool)(nil)

// PostgresStore implements GraphStore using pgxpool. Graph documents are
// stored as JSONB.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS context_graphs (
	company_id TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS graph_revisions (
	company_id TEXT NOT NULL REFERENCES context_graphs(company_id),
	version    BIGINT NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, version)
);

CREATE INDEX IF NOT EXISTS idx_graph_revisions_updated_at ON graph_revisions(updated_at);
`

const (
	pgLoadGraph = `SELECT document, version, updated_by, updated_at FROM context_graphs WHERE company_id = $1`
	pgSaveGraph = `UPDATE context_graphs SET document = $1, version = $2, updated_by = $3, updated_at = $4 WHERE company_id = $5 AND version = $6`
	pgExists    = `SELECT EXISTS (SELECT 1 FROM context_graphs WHERE company_id = $1)`
	pgCreate    = `INSERT INTO context_graphs (company_id, document, version, updated_by, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (company_id) DO NOTHING`
	pgRevision  = `INSERT INTO graph_revisions (company_id, version, updated_by, updated_at) VALUES ($1, $2, $3, $4)`
	pgHistory   = `SELECT version, updated_by, updated_at FROM graph_revisions WHERE company_id = $1 ORDER BY version DESC LIMIT $2`
)

var (
	graphColumns    = []string{"company_id", "document", "version", "updated_by", "updated_at"}
	revisionColumns = []string{"company_id", "version", "updated_by", "updated_at"}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, companyID string) (*model.ContextGraph, error) {
	var (
		doc       []byte
		version   int64
		updatedBy string
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, pgLoadGraph, companyID).Scan(&doc, &version, &updatedBy, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: load %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s", companyID)
	}

	var g model.ContextGraph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal graph %s", companyID)
	}
	stamp(&g, version, updatedBy, updatedAt.UTC())
	return &g, nil
}

func (s *PostgresStore) Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	if err := validateGraph(g); err != nil {
		return 0, err
	}

	next := g.Version + 1
	now := s.now().UTC()
	doc, err := encodeVersion(g, next, writerTag, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal graph")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin save")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, pgSaveGraph, doc, next, writerTag, now, g.CompanyID, g.Version)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save %s", g.CompanyID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, pgExists, g.CompanyID).Scan(&exists); err != nil {
			return 0, eris.Wrapf(err, "postgres: exists %s", g.CompanyID)
		}
		if !exists {
			return 0, eris.Wrapf(ErrNotFound, "postgres: save %s", g.CompanyID)
		}
		return 0, eris.Wrapf(ErrVersionConflict, "postgres: save %s at version %d", g.CompanyID, g.Version)
	}

	if _, err := tx.Exec(ctx, pgRevision, g.CompanyID, next, writerTag, now); err != nil {
		return 0, eris.Wrapf(err, "postgres: insert revision %s@%d", g.CompanyID, next)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit save")
	}

	stamp(g, next, writerTag, now)
	return next, nil
}

func (s *PostgresStore) Create(ctx context.Context, g *model.ContextGraph) error {
	if err := validateGraph(g); err != nil {
		return err
	}

	writer := g.UpdatedBy
	if writer == "" {
		writer = CreatedBy
	}
	now := s.now().UTC()
	doc, err := encodeVersion(g, 1, writer, now)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal graph")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, pgCreate, g.CompanyID, doc, int64(1), writer, now)
	if err != nil {
		return eris.Wrapf(err, "postgres: create %s", g.CompanyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAlreadyExists, "postgres: create %s", g.CompanyID)
	}
	if _, err := tx.Exec(ctx, pgRevision, g.CompanyID, int64(1), writer, now); err != nil {
		return eris.Wrapf(err, "postgres: insert revision %s@1", g.CompanyID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit create")
	}

	stamp(g, 1, writer, now)
	return nil
}

// BulkCreate seeds many graphs with the COPY protocol. Unlike Create it
// fails as a whole if any company already exists.
func (s *PostgresStore) BulkCreate(ctx context.Context, graphs []*model.ContextGraph) (int64, error) {
	now := s.now().UTC()
	graphRows := make([][]any, 0, len(graphs))
	revisionRows := make([][]any, 0, len(graphs))
	writers := make([]string, 0, len(graphs))

	for _, g := range graphs {
		if err := validateGraph(g); err != nil {
			return 0, err
		}
		writer := g.UpdatedBy
		if writer == "" {
			writer = CreatedBy
		}
		doc, err := encodeVersion(g, 1, writer, now)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal graph %s", g.CompanyID)
		}
		writers = append(writers, writer)
		graphRows = append(graphRows, []any{g.CompanyID, doc, int64(1), writer, now})
		revisionRows = append(revisionRows, []any{g.CompanyID, int64(1), writer, now})
	}

	n, err := db.CopyFrom(ctx, s.pool, graphsTable, graphColumns, graphRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk create graphs")
	}
	if _, err := db.CopyFrom(ctx, s.pool, revisionsTable, revisionColumns, revisionRows); err != nil {
		return n, eris.Wrap(err, "postgres: bulk create revisions")
	}

	for i, g := range graphs {
		stamp(g, 1, writers[i], now)
	}
	return n, nil
}

func (s *PostgresStore) History(ctx context.Context, companyID string, limit int) ([]Revision, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, pgExists, companyID).Scan(&exists); err != nil {
		return nil, eris.Wrapf(err, "postgres: exists %s", companyID)
	}
	if !exists {
		return nil, eris.Wrapf(ErrNotFound, "postgres: history %s", companyID)
	}

	rows, err := s.pool.Query(ctx, pgHistory, companyID, historyLimit(limit))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", companyID)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		r := Revision{CompanyID: companyID}
		if err := rows.Scan(&r.Version, &r.UpdatedBy, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan revision")
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: history iterate")
}
