// Package apply writes lab refinement proposals into a company's context
// graph, one batch at a time.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/authority"
	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/monitoring"
	"github.com/sells-group/context-graph/internal/registry"
	"github.com/sells-group/context-graph/internal/resilience"
	"github.com/sells-group/context-graph/internal/resolve"
	"github.com/sells-group/context-graph/internal/store"
)

// Outcome messages for batch-fatal conditions.
const (
	msgGraphNotFound = "graph not found"
	msgConflict      = "version conflict: graph changed during apply"
)

// ErrInvalidRequest is returned for a request without a company ID.
var ErrInvalidRequest = eris.New("apply: invalid request")

// ApplyRequest is one batch of proposals from one writer for one company.
type ApplyRequest struct {
	CompanyID string                     `json:"company_id"`
	Proposals []model.RefinementProposal `json:"proposals"`
	Writer    model.SourceTag            `json:"writer"`
	// WriterTag is recorded as the save's audit identity. Defaults to Writer.
	WriterTag string `json:"writer_tag,omitempty"`
	// RunID is stamped on every provenance entry written. Defaults to a
	// fresh UUID.
	RunID  string `json:"run_id,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// Engine applies proposal batches. It is safe for concurrent use; batches
// for the same company are serialized in-process, and the store's version
// check catches writers in other processes.
type Engine struct {
	store    store.GraphStore
	registry *registry.Registry
	checker  *authority.Checker
	resolver *resolve.Resolver
	retry    resilience.RetryConfig
	breaker  *resilience.Breaker
	metrics  *monitoring.Metrics
	now      func() time.Time
	locks    *keyedMutex

	threshold float64
	policy    resolve.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the entity dedup threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithClusterPolicy sets the dedup clustering policy.
func WithClusterPolicy(p resolve.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRetry sets the conflict retry configuration. ShouldRetry is replaced.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithBreaker guards store calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithMetrics records batch metrics into m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source for provenance timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over st. A nil reg uses the built-in schema.
func NewEngine(st store.GraphStore, reg *registry.Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = registry.Default()
	}
	e := &Engine{
		store:     st,
		registry:  reg,
		checker:   authority.NewChecker(reg),
		retry:     resilience.DefaultRetryConfig(),
		now:       time.Now,
		locks:     newKeyedMutex(),
		threshold: resolve.DefaultThreshold,
		policy:    resolve.PolicyGreedy,
	}
	for _, o := range opts {
		o(e)
	}
	e.resolver = resolve.NewResolver(
		resolve.WithThreshold(e.threshold),
		resolve.WithPolicy(e.policy),
		resolve.WithClock(e.now),
	)
	e.retry.ShouldRetry = resilience.RetryOn(store.ErrVersionConflict)
	return e
}

// Registry returns the schema the engine validates against.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Resolver returns the engine's entity resolver.
func (e *Engine) Resolver() *resolve.Resolver { return e.resolver }

// ApplyBatch loads the company's graph, decides every proposal in order,
// and saves the graph once if anything changed. The returned result is
// non-nil whenever the request is valid. A missing graph, a failed save or
// exhausted conflict retries also return an error, with every pending
// update reported as an Error outcome.
func (e *Engine) ApplyBatch(ctx context.Context, req ApplyRequest) (*model.ApplyResult, error) {
	if req.CompanyID == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "company id required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.WriterTag == "" {
		req.WriterTag = string(req.Writer)
	}

	log := zap.L().With(
		zap.String("company_id", req.CompanyID),
		zap.String("writer", string(req.Writer)),
		zap.String("run_id", req.RunID),
	)
	start := time.Now()

	unlock := e.locks.Lock(req.CompanyID)
	defer unlock()

	retry := e.retry
	retry.OnRetry = resilience.RetryLogger("apply", req.CompanyID)

	var (
		res      *model.ApplyResult
		mergeLog []model.MergeOperation
	)
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		var attemptErr error
		res, mergeLog, attemptErr = e.attempt(ctx, req)
		if errors.Is(attemptErr, store.ErrVersionConflict) {
			e.metrics.Conflict()
		}
		return attemptErr
	})

	result := monitoring.BatchOK
	switch {
	case err == nil && req.DryRun:
		result = monitoring.BatchDryRun
	case errors.Is(err, store.ErrNotFound):
		result = monitoring.BatchNotFound
	case errors.Is(err, store.ErrVersionConflict):
		res.FailPending(msgConflict)
		result = monitoring.BatchFailed
	case err != nil:
		result = monitoring.BatchFailed
	}
	e.metrics.ObserveBatch(res, result, time.Since(start))
	if err == nil {
		e.metrics.ObserveMergeLog(mergeLog)
	}

	fields := []zap.Field{
		zap.Int("attempted", res.Attempted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped_human_override", res.SkippedHumanOverride),
		zap.Int("skipped_higher_priority", res.SkippedHigherPriority),
		zap.Int("skipped_unchanged", res.SkippedUnchanged),
		zap.Int("skipped_invalid_path", res.SkippedInvalidPath),
		zap.Int("errors", res.Errors),
		zap.Int("invalid_entities", res.InvalidEntities),
		zap.Int64("version", res.Version),
		zap.Bool("dry_run", req.DryRun),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		log.Error("apply: batch failed", append(fields, zap.Error(err))...)
		return res, eris.Wrapf(err, "apply: company %s", req.CompanyID)
	}
	log.Info("apply: batch complete", fields...)
	return res, nil
}

// attempt runs one load, decide, save cycle. It always returns a result,
// along with the entity merge log decide produced.
func (e *Engine) attempt(ctx context.Context, req ApplyRequest) (*model.ApplyResult, []model.MergeOperation, error) {
	g, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*model.ContextGraph, error) {
		return e.store.Load(ctx, req.CompanyID)
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, store.ErrNotFound) {
			msg = msgGraphNotFound
		}
		return failAll(req, msg), nil, err
	}

	res, mergeLog := e.decide(g, req)
	res.Version = g.Version
	if req.DryRun || res.Updated == 0 {
		return res, mergeLog, nil
	}

	version, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (int64, error) {
		return e.store.Save(ctx, g, req.WriterTag)
	})
	if err != nil {
		if !errors.Is(err, store.ErrVersionConflict) {
			res.FailPending(err.Error())
		}
		return res, mergeLog, err
	}
	res.Version = version
	return res, mergeLog, nil
}

// decide evaluates every proposal against g in input order, mutating g for
// each applied write so later proposals see earlier ones.
func (e *Engine) decide(g *model.ContextGraph, req ApplyRequest) (*model.ApplyResult, []model.MergeOperation) {
	res := newResult(req)
	now := e.now().UTC()
	var mergeLog []model.MergeOperation

	for _, p := range req.Proposals {
		conf := model.ClampConfidence(p.Confidence)
		out := model.ApplyOutcome{Path: p.Path, Confidence: conf}

		candidate := p.NewValue
		if ref, ok := e.registry.Resolve(p.Path); ok && ref.IsEntityList() {
			merged, info, err := e.mergeEntities(g, ref.Path(), p.NewValue)
			if err != nil {
				out.Status = model.OutcomeError
				out.Error = err.Error()
				res.Outcomes = append(res.Outcomes, out)
				continue
			}
			candidate = merged
			mergeLog = append(mergeLog, info.log...)
			out.InvalidEntities = info.invalid
		}

		v := e.checker.Check(g, model.RefinementProposal{
			Path:       p.Path,
			NewValue:   candidate,
			Confidence: conf,
			Reason:     p.Reason,
		}, req.Writer)

		out.Status = v.Decision.Outcome()
		out.Reason = v.Reason
		if v.Existing != nil {
			out.PreviousValue = model.CloneValue(v.Existing.Value)
		}
		if v.Decision == authority.Apply {
			model.Set(g, v.Path, candidate, model.ProvenanceEntry{
				Source:     req.Writer,
				Confidence: conf,
				UpdatedAt:  now,
				RunID:      req.RunID,
				Notes:      p.Reason,
			})
			out.NewValue = candidate
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	res.Tally()
	return res, mergeLog
}

func newResult(req ApplyRequest) *model.ApplyResult {
	return &model.ApplyResult{
		CompanyID: req.CompanyID,
		RunID:     req.RunID,
		Writer:    req.Writer,
		DryRun:    req.DryRun,
		Outcomes:  make([]model.ApplyOutcome, 0, len(req.Proposals)),
	}
}

// failAll reports every proposal as an Error with msg.
func failAll(req ApplyRequest, msg string) *model.ApplyResult {
	res := newResult(req)
	for _, p := range req.Proposals {
		res.Outcomes = append(res.Outcomes, model.ApplyOutcome{
			Path:       p.Path,
			Status:     model.OutcomeError,
			Confidence: model.ClampConfidence(p.Confidence),
			Error:      msg,
		})
	}
	res.Tally()
	return res
}

// CreateGraph seeds an empty graph with a container for every schema domain.
func (e *Engine) CreateGraph(ctx context.Context, companyID, name, domain string) (*model.ContextGraph, error) {
	g := e.registry.NewGraph(companyID, name, domain)
	if err := e.store.Create(ctx, g); err != nil {
		return nil, eris.Wrapf(err, "apply: create graph %s", companyID)
	}
	return g, nil
}

// Graph loads a company's graph.
func (e *Engine) Graph(ctx context.Context, companyID string) (*model.ContextGraph, error) {
	return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*model.ContextGraph, error) {
		return e.store.Load(ctx, companyID)
	})
}

// History lists the most recent saves of a company's graph, newest first.
func (e *Engine) History(ctx context.Context, companyID string, limit int) ([]store.Revision, error) {
	return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) ([]store.Revision, error) {
		return e.store.History(ctx, companyID, limit)
	})
}

// Breaker returns the store circuit breaker, or nil when none is configured.
func (e *Engine) Breaker() *resilience.Breaker { return e.breaker }

// Field loads one field of a company's graph. A path the schema does not
// know yields model.ErrInvalidPath; an unset field yields a nil field.
func (e *Engine) Field(ctx context.Context, companyID, path string) (*model.Field, error) {
	ref, ok := e.registry.Resolve(path)
	if !ok {
		return nil, eris.Wrapf(model.ErrInvalidPath, "apply: %q", path)
	}
	g, err := e.Graph(ctx, companyID)
	if err != nil {
		return nil, err
	}
	f, ok := model.Get(g, ref.Path())
	if !ok {
		return nil, nil
	}
	return f, nil
}

// Dedupe collapses duplicate competitor profiles with the engine's
// threshold and policy.
func (e *Engine) Dedupe(list []model.CompetitorProfile) resolve.DedupeResult {
	res := e.resolver.Dedupe(list)
	e.metrics.ObserveMergeLog(res.Log)
	return res
}

// MergeIntoExisting merges incoming profiles into an existing list.
func (e *Engine) MergeIntoExisting(existing, incoming []model.CompetitorProfile) resolve.MergeStats {
	stats := e.resolver.MergeIntoExisting(existing, incoming)
	e.metrics.ObserveMergeLog(stats.Log)
	return stats
}

// Summary renders a one-line description of a result.
func Summary(res *model.ApplyResult) string {
	if res == nil {
		return ""
	}
	return fmt.Sprintf("%s: attempted=%d updated=%d human=%d priority=%d unchanged=%d invalid=%d errors=%d invalid_entities=%d version=%d",
		res.CompanyID, res.Attempted, res.Updated, res.SkippedHumanOverride, res.SkippedHigherPriority,
		res.SkippedUnchanged, res.SkippedInvalidPath, res.Errors, res.InvalidEntities, res.Version)
}
