// Package batch implements the chunked scoring pass over a branch's entities.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
	"github.com/careflock/careflock-go/internal/scoring"
)

// DefaultChunkSize bounds memory and transaction size per page.
const DefaultChunkSize = 50

// Summary aggregates a run's outcome. Per-item failures are counted, never
// propagated; only infrastructure failures abort a run.
type Summary struct {
	Processed   int
	Errors      int
	Transitions int
	Concerning  int
}

// Pass describes one scoring capability: which entities to score, how, and
// how to project the result onto stored columns.
type Pass struct {
	Kind  datastore.EntityKind
	Score scoring.Func
	Scale scoring.OrdinalScale

	// Project maps a score result to the entity's stored column updates.
	Project func(result scoring.Result, now time.Time) map[string]any

	// PreviousState overrides how the prior categorical state is read when a
	// pass tracks a state other than the entity's primary one, e.g. churn
	// risk level on members whose primary state is the lifecycle stage.
	PreviousState func(entity datastore.Scoreable) string

	// OnResult, when set, observes each successfully scored entity together
	// with its transition classification. Used for notify-on-transition flows.
	OnResult func(entity datastore.Scoreable, previousState string, result scoring.Result, tr scoring.Transition)
}

// Runner executes scoring passes against the entity store.
type Runner struct {
	store datastore.Interface
	log   *slog.Logger
	now   func() time.Time
}

// NewRunner creates a Runner. A nil logger falls back to slog's default.
func NewRunner(store datastore.Interface, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, log: log.With("service", "batch"), now: time.Now}
}

// SetClock overrides the runner's clock. Intended for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Run scores every entity of the pass's kind in the branch, in stable-ordered
// chunks. Each entity's update commits individually, so a cancelled or failed
// run keeps its partial progress and a rerun is a pure recompute.
func (r *Runner) Run(ctx context.Context, branchID uint, pass Pass, chunkSize int) (Summary, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	summary := Summary{}
	start := r.now()

	// Informational only; a count failure surfaces through the chunk loop.
	if total, err := r.store.CountEntities(branchID, pass.Kind); err == nil {
		r.log.Debug("scoring pass starting",
			"branch_id", branchID,
			"entity_kind", string(pass.Kind),
			"total", total)
	}

	err := r.store.ChunkEntities(ctx, branchID, pass.Kind, chunkSize, func(entities []datastore.Scoreable) error {
		for _, entity := range entities {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.scoreOne(ctx, branchID, pass, entity, &summary)
		}
		return nil
	})
	if err != nil {
		return summary, errors.New(err).
			Component("batch").
			Category(errors.CategoryDatabase).
			Context("branch_id", branchID).
			Context("entity_kind", string(pass.Kind)).
			Context("processed_before_failure", summary.Processed).
			Build()
	}

	r.log.Info("scoring pass complete",
		"branch_id", branchID,
		"entity_kind", string(pass.Kind),
		"processed", summary.Processed,
		"errors", summary.Errors,
		"transitions", summary.Transitions,
		"concerning", summary.Concerning,
		"duration_ms", r.now().Sub(start).Milliseconds())
	return summary, nil
}

// scoreOne scores and persists a single entity. All failures here are
// per-item: logged, counted, and swallowed so the batch continues.
func (r *Runner) scoreOne(ctx context.Context, branchID uint, pass Pass, entity datastore.Scoreable, summary *Summary) {
	result, err := pass.Score(ctx, entity)
	if err != nil {
		summary.Errors++
		r.log.Warn("entity scoring failed",
			"branch_id", branchID,
			"entity_kind", string(pass.Kind),
			"entity_id", entity.GetID(),
			"error", err)
		return
	}

	previousState := entity.CurrentState()
	if pass.PreviousState != nil {
		previousState = pass.PreviousState(entity)
	}
	tr := scoring.DetectTransition(pass.Scale, previousState, result.State)
	result.IsTransition = tr.IsTransition
	result.IsConcerning = tr.IsConcerning

	fields := pass.Project(result, r.now())
	if err := r.store.UpdateScoreFields(pass.Kind, entity.GetID(), fields); err != nil {
		summary.Errors++
		r.log.Warn("entity score update failed",
			"branch_id", branchID,
			"entity_kind", string(pass.Kind),
			"entity_id", entity.GetID(),
			"error", err)
		return
	}

	summary.Processed++
	if tr.IsTransition {
		summary.Transitions++
	}
	if tr.IsConcerning {
		summary.Concerning++
	}
	if pass.OnResult != nil {
		pass.OnResult(entity, previousState, result, tr)
	}
}
