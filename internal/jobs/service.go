// Package jobs exposes the trigger entry points invoked by the external
// scheduler, one per capability. Each entry point gates on its feature flag
// before touching the store, bounds its run with the job timeout and retries
// infrastructure failures up to the configured attempt limit.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/careflock/careflock-go/internal/alerting"
	"github.com/careflock/careflock-go/internal/batch"
	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
	"github.com/careflock/careflock-go/internal/notify"
	"github.com/careflock/careflock-go/internal/observability"
)

// Result is the externally observable outcome of one job run.
type Result struct {
	Capability string
	batch.Summary
	AlertsCreated     int
	NotificationsSent int
}

// Service wires the engine components behind the trigger entry points.
type Service struct {
	settings   *conf.Settings
	store      datastore.Interface
	runner     *batch.Runner
	engine     *alerting.Engine
	dispatcher *notify.Dispatcher
	metrics    *observability.Metrics
	log        *slog.Logger
	now        func() time.Time
}

// NewService assembles the job service. Metrics may be nil in tests.
func NewService(settings *conf.Settings, store datastore.Interface, runner *batch.Runner,
	engine *alerting.Engine, dispatcher *notify.Dispatcher, metrics *observability.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		settings:   settings,
		store:      store,
		runner:     runner,
		engine:     engine,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.With("service", "jobs"),
		now:        time.Now,
	}
}

// SetClock overrides the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Engine exposes the alert engine, mainly so callers can reuse its cached
// settings lookup.
func (s *Service) Engine() *alerting.Engine { return s.engine }

// run executes one capability with timeout and bounded retry. Per the error
// taxonomy, only infrastructure errors reach this level; they are retried
// with a short backoff, and the terminal failure is logged and returned.
func (s *Service) run(ctx context.Context, capability string, enabled bool, fn func(ctx context.Context) (Result, error)) (Result, error) {
	if !enabled {
		s.log.Info("capability disabled, skipping", "capability", capability)
		s.countJob(capability, "disabled")
		return Result{Capability: capability}, nil
	}

	timeout := time.Duration(s.settings.Jobs.TimeoutSeconds) * time.Second
	attempts := s.settings.Jobs.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var result Result
	var err error
	start := s.now()
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err = fn(attemptCtx)
		cancel()
		result.Capability = capability

		if err == nil {
			s.countJob(capability, "success")
			s.observeDuration(capability, s.now().Sub(start))
			s.log.Info("job complete",
				"capability", capability,
				"processed", result.Processed,
				"errors", result.Errors,
				"transitions", result.Transitions,
				"concerning", result.Concerning,
				"alerts_created", result.AlertsCreated,
				"notifications_sent", result.NotificationsSent)
			return result, nil
		}
		if ctx.Err() != nil {
			// Caller cancelled; partial progress is retained, no retry.
			break
		}
		s.log.Warn("job attempt failed",
			"capability", capability,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)
		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	s.countJob(capability, "failed")
	s.observeDuration(capability, s.now().Sub(start))
	s.log.Error("job failed after retries", "capability", capability, "error", err)
	return result, err
}

func (s *Service) countJob(capability, result string) {
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(capability, result).Inc()
	}
}

func (s *Service) observeDuration(capability string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(capability).Observe(d.Seconds())
	}
}

func (s *Service) observeSummary(kind datastore.EntityKind, summary batch.Summary) {
	if s.metrics == nil {
		return
	}
	s.metrics.EntitiesProcessed.WithLabelValues(string(kind)).Add(float64(summary.Processed))
	s.metrics.EntityErrors.WithLabelValues(string(kind)).Add(float64(summary.Errors))
}

func (s *Service) countAlerts(alerts []datastore.Alert) {
	if s.metrics == nil {
		return
	}
	for i := range alerts {
		s.metrics.AlertsCreated.WithLabelValues(alerts[i].Type, alerts[i].Severity).Inc()
	}
}

// RunAllBranches invokes fn for every known branch, parallel across branches
// up to the configured limit. Within a branch everything stays sequential.
func (s *Service) RunAllBranches(ctx context.Context, fn func(ctx context.Context, branchID uint) error) error {
	branches, err := s.store.BranchIDs()
	if err != nil {
		return errors.New(err).
			Component("jobs").
			Category(errors.CategoryDatabase).
			Build()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Jobs.MaxConcurrentBranches)
	for _, branchID := range branches {
		g.Go(func() error {
			if err := fn(gctx, branchID); err != nil {
				// One branch failing must not stop the others; surface in logs.
				s.log.Error("branch run failed", "branch_id", branchID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
