package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/apply"
	"github.com/sells-group/context-graph/internal/config"
	"github.com/sells-group/context-graph/internal/monitoring"
	"github.com/sells-group/context-graph/internal/registry"
	"github.com/sells-group/context-graph/internal/resilience"
	"github.com/sells-group/context-graph/internal/resolve"
	"github.com/sells-group/context-graph/internal/store"
)

// engineEnv bundles the store and engine a command works against.
type engineEnv struct {
	Store   store.GraphStore
	Engine  *apply.Engine
	Metrics *monitoring.Metrics
	Breaker *resilience.Breaker
}

// Close releases the store.
func (e *engineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store: close", zap.Error(err))
	}
}

// openStore opens the configured backend. File-backed and in-memory
// stores are migrated on open; Postgres needs an explicit migrate.
func openStore(ctx context.Context, c *config.Config) (store.GraphStore, error) {
	st, err := store.Open(ctx, c.Store.Options())
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverMemory, "":
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "migrate store")
		}
	}
	return st, nil
}

func loadRegistry(c *config.Config) (*registry.Registry, error) {
	if c.Registry.Path == "" {
		return registry.Default(), nil
	}
	return registry.LoadFile(c.Registry.Path)
}

// initEngine wires the store, schema, metrics and circuit breaker into an
// apply engine. reg may be nil to leave metrics unregistered.
func initEngine(ctx context.Context, c *config.Config, reg prometheus.Registerer) (*engineEnv, error) {
	schema, err := loadRegistry(c)
	if err != nil {
		return nil, err
	}
	policy, err := resolve.ParsePolicy(c.Resolve.Policy)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics(reg)
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: c.Apply.BreakerThreshold,
		ResetTimeout:     time.Duration(c.Apply.BreakerResetSecs) * time.Second,
		OnStateChange: func(from, to resilience.CircuitState) {
			metrics.BreakerOpen(to == resilience.CircuitOpen)
			zap.L().Warn("store: circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	engine := apply.NewEngine(st, schema,
		apply.WithThreshold(c.Resolve.Threshold),
		apply.WithClusterPolicy(policy),
		apply.WithRetry(c.Apply.Retry()),
		apply.WithBreaker(breaker),
		apply.WithMetrics(metrics),
	)

	return &engineEnv{Store: st, Engine: engine, Metrics: metrics, Breaker: breaker}, nil
}
