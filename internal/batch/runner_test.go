package batch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
	"github.com/careflock/careflock-go/internal/scoring"
)

func newTestStore(t *testing.T) *datastore.SQLiteStore {
	t.Helper()
	settings := conf.Default()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func churnPass(score scoring.Func) Pass {
	return Pass{
		Kind:  datastore.KindMember,
		Score: score,
		Scale: scoring.ChurnRiskScale,
		PreviousState: func(e datastore.Scoreable) string {
			return e.(*datastore.Member).ChurnRiskLevel
		},
		Project: func(r scoring.Result, now time.Time) map[string]any {
			return map[string]any{
				"churn_score":         r.Score,
				"churn_risk_level":    r.State,
				"churn_calculated_at": now,
			}
		},
	}
}

func constScorer(score float64, state string) scoring.Func {
	return func(_ context.Context, _ datastore.Scoreable) (scoring.Result, error) {
		return scoring.Result{Score: score, State: state}, nil
	}
}

func TestRunProcessesAllEntities(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1, ChurnRiskLevel: scoring.RiskLow}).Error)
	}

	runner := NewRunner(store, nil)
	summary, err := runner.Run(context.Background(), 1, churnPass(constScorer(10, scoring.RiskLow)), 2)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Zero(t, summary.Errors)
	assert.Zero(t, summary.Transitions)
}

func TestRunIsolatesPerEntityFailures(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1, ChurnRiskLevel: scoring.RiskLow}).Error)
	}

	// The second entity always fails to score.
	failing := func(_ context.Context, e datastore.Scoreable) (scoring.Result, error) {
		if e.GetID() == 2 {
			return scoring.Result{}, errors.Newf("bad signal data").Component("scoring").Build()
		}
		return scoring.Result{Score: 10, State: scoring.RiskLow}, nil
	}

	runner := NewRunner(store, nil)
	summary, err := runner.Run(context.Background(), 1, churnPass(failing), 2)
	require.NoError(t, err, "per-item failures must never abort the batch")

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Errors)

	// Later entities in the same and following chunks were still updated.
	var member datastore.Member
	require.NoError(t, store.DB.First(&member, 4).Error)
	assert.NotNil(t, member.ChurnCalculatedAt)

	// The failed entity stays untouched. Use a fresh struct: GORM would
	// otherwise include the previous result's primary key in the conditions.
	var failed datastore.Member
	require.NoError(t, store.DB.First(&failed, 2).Error)
	assert.Nil(t, failed.ChurnCalculatedAt)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1, ChurnRiskLevel: scoring.RiskLow}).Error)

	runner := NewRunner(store, nil)
	pass := churnPass(constScorer(42, scoring.RiskModerate))

	first := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	runner.SetClock(func() time.Time { return first })
	_, err := runner.Run(context.Background(), 1, pass, 50)
	require.NoError(t, err)

	var afterFirst datastore.Member
	require.NoError(t, store.DB.First(&afterFirst, 1).Error)

	second := first.Add(time.Hour)
	runner.SetClock(func() time.Time { return second })
	summary, err := runner.Run(context.Background(), 1, pass, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	var afterSecond datastore.Member
	require.NoError(t, store.DB.First(&afterSecond, 1).Error)

	// Scores unchanged, calculated-at advanced.
	assert.InDelta(t, afterFirst.ChurnScore, afterSecond.ChurnScore, 0.001)
	assert.Equal(t, afterFirst.ChurnRiskLevel, afterSecond.ChurnRiskLevel)
	assert.True(t, afterSecond.ChurnCalculatedAt.After(*afterFirst.ChurnCalculatedAt))
}

func TestRunCountsTransitions(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1, ChurnRiskLevel: scoring.RiskLow}).Error)
	require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1, ChurnRiskLevel: scoring.RiskCritical}).Error)

	var observed []scoring.Transition
	pass := churnPass(constScorer(75, scoring.RiskHigh))
	pass.OnResult = func(_ datastore.Scoreable, _ string, _ scoring.Result, tr scoring.Transition) {
		observed = append(observed, tr)
	}

	runner := NewRunner(store, nil)
	summary, err := runner.Run(context.Background(), 1, pass, 50)
	require.NoError(t, err)

	// low->high worsens, critical->high improves; both are transitions.
	assert.Equal(t, 2, summary.Transitions)
	assert.Equal(t, 1, summary.Concerning)
	require.Len(t, observed, 2)
	assert.True(t, observed[0].IsConcerning)
	assert.False(t, observed[1].IsConcerning)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.DB.Create(&datastore.Member{BranchID: 1}).Error)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(store, nil)
	_, err := runner.Run(ctx, 1, churnPass(constScorer(10, scoring.RiskLow)), 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
