package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/fitsync/internal/model"
)

const (
	otelScope        = "fitsync/sync"
	spanPass         = "sync.pass"
	spanUser         = "sync.user"
	metricAdded      = "fitsync.sync.workouts.added"
	metricUpdated    = "fitsync.sync.workouts.updated"
	metricDeleted    = "fitsync.sync.workouts.deleted"
	metricUnresolved = "fitsync.sync.workouts.unresolved"
	metricErrors     = "fitsync.sync.errors"
	metricComments   = "fitsync.publish.comments"
)

// Stats summarises one pass over all users.
type Stats struct {
	Users      int
	Added      int
	Updated    int
	Deleted    int
	Unresolved int
	Comments   int
	Props      int
	Errors     int
}

func (s *Stats) add(o Stats) {
	s.Users += o.Users
	s.Added += o.Added
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.Unresolved += o.Unresolved
	s.Comments += o.Comments
	s.Props += o.Props
	s.Errors += o.Errors
}

// Engine orchestrates the sync lifecycle: it lists the tracked users,
// synchronizes and processes each of them, and repeats on a fixed interval.
// Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	users        UserSource
	registry     UserStore
	synchronizer *Synchronizer
	processor    *Processor
	concurrency  int
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntAdded      metric.Int64Counter
	cntUpdated    metric.Int64Counter
	cntDeleted    metric.Int64Counter
	cntUnresolved metric.Int64Counter
	cntErrors     metric.Int64Counter
	cntComments   metric.Int64Counter
}

// NewEngine creates an Engine that works on at most concurrency users at a
// time.
func NewEngine(users UserSource, registry UserStore, synchronizer *Synchronizer, processor *Processor, concurrency int, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		users:        users,
		registry:     registry,
		synchronizer: synchronizer,
		processor:    processor,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		log:          logger,

		tracer:        tracer,
		cntAdded:      mustCounter(metricAdded, "Number of workouts added during sync"),
		cntUpdated:    mustCounter(metricUpdated, "Number of workouts updated during sync"),
		cntDeleted:    mustCounter(metricDeleted, "Number of workouts deleted during sync"),
		cntUnresolved: mustCounter(metricUnresolved, "Number of unresolved workouts handled during sync"),
		cntErrors:     mustCounter(metricErrors, "Number of users whose sync failed"),
		cntComments:   mustCounter(metricComments, "Number of comments posted"),
	}
}

// pass runs one full pass over all users, recording a trace span and metrics.
func (e *Engine) pass(ctx context.Context) (Stats, error) {
	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, spanPass, trace.WithAttributes(attribute.String("sync.run_id", runID)))
	defer span.End()
	log := e.log.With("run_id", runID)

	listed, err := e.users.ListUsers(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing users")
		return Stats{}, fmt.Errorf("listing users: %w", err)
	}

	var users []*model.User
	for _, u := range listed {
		stored, err := e.registry.EnsureUser(ctx, u)
		if err != nil {
			span.RecordError(err)
			return Stats{}, fmt.Errorf("registering user %d: %w", u.ID, err)
		}
		users = append(users, stored)
	}

	stats, err := e.fanOut(ctx, users, log)

	// Record counters; these are always safe even if the span is a no-op.
	if stats.Added > 0 {
		e.cntAdded.Add(ctx, int64(stats.Added))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Unresolved > 0 {
		e.cntUnresolved.Add(ctx, int64(stats.Unresolved))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}
	if stats.Comments > 0 {
		e.cntComments.Add(ctx, int64(stats.Comments))
	}

	span.SetAttributes(
		attribute.Int("sync.users", stats.Users),
		attribute.Int("sync.added", stats.Added),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.unresolved", stats.Unresolved),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	log.Info("sync pass complete",
		"users", stats.Users, "added", stats.Added, "updated", stats.Updated,
		"deleted", stats.Deleted, "unresolved", stats.Unresolved,
		"comments", stats.Comments, "props", stats.Props, "errors", stats.Errors)
	return stats, err
}

// fanOut handles users on a fixed pool of workers. A failing user is logged
// and counted; the others carry on.
func (e *Engine) fanOut(ctx context.Context, users []*model.User, log *slog.Logger) (Stats, error) {
	queue := make(chan *model.User, len(users))
	for _, u := range users {
		queue <- u
	}
	close(queue)

	var (
		mu    sync.Mutex
		total Stats
		errs  []error
		wg    sync.WaitGroup
	)
	for range min(e.concurrency, len(users)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range queue {
				stats, err := e.user(ctx, u, log)
				mu.Lock()
				total.add(stats)
				if err != nil {
					total.Errors++
					errs = append(errs, fmt.Errorf("user %d: %w", u.ID, err))
				}
				mu.Unlock()
				if err != nil {
					log.Error("user sync failed", "user", u.Username, "user_id", u.ID, "error", err)
				}
			}
		}()
	}
	wg.Wait()
	return total, errors.Join(errs...)
}

// user synchronizes and processes a single user.
func (e *Engine) user(ctx context.Context, u *model.User, log *slog.Logger) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanUser, trace.WithAttributes(attribute.Int64("user.id", u.ID)))
	defer span.End()

	stats := Stats{Users: 1}
	res, err := e.synchronizer.Run(ctx, u)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	stats.Deleted = res.Deleted
	for _, w := range res.Workouts {
		switch w.State {
		case model.StateAdded:
			stats.Added++
		case model.StateUpdated, model.StateUpdatedDeep:
			stats.Updated++
		case model.StateUnresolved:
			stats.Unresolved++
		}
	}

	pub, err := e.processor.Process(ctx, u, res.Workouts)
	stats.Comments, stats.Props = pub.Comments, pub.Props
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("publishing: %w", err)
	}
	log.Debug("user done", "user", u.Username, "changes", len(res.Workouts), "skipped", pub.Skipped)
	return stats, nil
}

// RunOnce performs a single pass over all users and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.pass(ctx)
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.pass(ctx); err != nil {
		e.log.Error("initial sync pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.pass(ctx); err != nil {
				e.log.Error("sync pass failed", "error", err)
			}
		}
	}
}
