package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/context-graph/internal/model"
)

const (
	graphsTable    = "context_graphs"
	revisionsTable = "graph_revisions"
)

// SQLiteStore implements GraphStore using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS context_graphs (
	company_id TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS graph_revisions (
	company_id TEXT NOT NULL REFERENCES context_graphs(company_id),
	version    INTEGER NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company_id, version)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, companyID string) (*model.ContextGraph, error) {
	query, args, err := sq.Select("document", "version", "updated_by", "updated_at").
		From(graphsTable).
		Where(sq.Eq{"company_id": companyID}).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build load")
	}

	var (
		doc       string
		version   int64
		updatedBy string
		updatedAt time.Time
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&doc, &version, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: load %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", companyID)
	}

	var g model.ContextGraph
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal graph %s", companyID)
	}
	stamp(&g, version, updatedBy, updatedAt.UTC())
	return &g, nil
}

func (s *SQLiteStore) Save(ctx context.Context, g *model.ContextGraph, writerTag string) (int64, error) {
	if err := validateGraph(g); err != nil {
		return 0, err
	}

	next := g.Version + 1
	now := s.now().UTC()
	doc, err := encodeVersion(g, next, writerTag, now)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal graph")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save")
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sq.Update(graphsTable).
		Set("document", string(doc)).
		Set("version", next).
		Set("updated_by", writerTag).
		Set("updated_at", now).
		Where(sq.Eq{"company_id": g.CompanyID, "version": g.Version}).
		ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build save")
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: save %s", g.CompanyID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		exists, err := s.exists(ctx, tx, g.CompanyID)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, eris.Wrapf(ErrNotFound, "sqlite: save %s", g.CompanyID)
		}
		return 0, eris.Wrapf(ErrVersionConflict, "sqlite: save %s at version %d", g.CompanyID, g.Version)
	}

	if err := s.insertRevision(ctx, tx, g.CompanyID, next, writerTag, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save")
	}

	stamp(g, next, writerTag, now)
	return next, nil
}

func (s *SQLiteStore) Create(ctx context.Context, g *model.ContextGraph) error {
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
		return eris.Wrap(err, "sqlite: marshal graph")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create")
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.exists(ctx, tx, g.CompanyID)
	if err != nil {
		return err
	}
	if exists {
		return eris.Wrapf(ErrAlreadyExists, "sqlite: create %s", g.CompanyID)
	}

	query, args, err := sq.Insert(graphsTable).
		Columns("company_id", "document", "version", "updated_by", "updated_at").
		Values(g.CompanyID, string(doc), int64(1), writer, now).
		ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build create")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", g.CompanyID)
	}
	if err := s.insertRevision(ctx, tx, g.CompanyID, 1, writer, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit create")
	}

	stamp(g, 1, writer, now)
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, companyID string, limit int) ([]Revision, error) {
	exists, err := s.exists(ctx, s.db, companyID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: history %s", companyID)
	}

	query, args, err := sq.Select("version", "updated_by", "updated_at").
		From(revisionsTable).
		Where(sq.Eq{"company_id": companyID}).
		OrderBy("version DESC").
		Limit(uint64(historyLimit(limit))).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build history")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", companyID)
	}
	defer rows.Close() //nolint:errcheck

	var out []Revision
	for rows.Next() {
		r := Revision{CompanyID: companyID}
		if err := rows.Scan(&r.Version, &r.UpdatedBy, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan revision")
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) exists(ctx context.Context, q queryRower, companyID string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(graphsTable).
		Where(sq.Eq{"company_id": companyID}).
		ToSql()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: build exists")
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", companyID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) insertRevision(ctx context.Context, tx *sql.Tx, companyID string, version int64, writer string, at time.Time) error {
	query, args, err := sq.Insert(revisionsTable).
		Columns("company_id", "version", "updated_by", "updated_at").
		Values(companyID, version, writer, at).
		ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build revision")
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: insert revision %s@%d", companyID, version)
}

// encodeVersion marshals g as it will look once stored at version.
func encodeVersion(g *model.ContextGraph, version int64, writer string, at time.Time) ([]byte, error) {
	cp := *g
	stamp(&cp, version, writer, at)
	return json.Marshal(&cp)
}
