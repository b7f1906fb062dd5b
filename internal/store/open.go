package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Supported backend drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Pool        PoolConfig
	S3          S3Config
}

// Open creates the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (GraphStore, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	zap.L().Debug("store: open", zap.String("driver", driver))

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite, "":
		path := opts.SQLitePath
		if path == "" {
			path = "context.db"
		}
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, eris.New("store: postgres driver requires database_url")
		}
		s, err := NewPostgres(ctx, opts.DatabaseURL, &opts.Pool)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverS3:
		s, err := NewS3(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
}
