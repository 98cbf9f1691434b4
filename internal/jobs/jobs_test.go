package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflock/careflock-go/internal/alerting"
	"github.com/careflock/careflock-go/internal/batch"
	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/notify"
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

// newTestService assembles the full stack over a temp sqlite store, with the
// in-app provider as the only transport and every clock pinned to now.
func newTestService(t *testing.T, settings *conf.Settings, store datastore.Interface, now time.Time) *Service {
	t.Helper()
	clock := func() time.Time { return now }

	runner := batch.NewRunner(store, nil)
	runner.SetClock(clock)

	engine := alerting.NewEngine(store, settings, nil)
	engine.SetClock(clock)
	alerting.RegisterDefaultChecks(engine, store, settings)

	dispatcher := notify.NewDispatcher(store, settings, engine.Setting, nil,
		notify.NewInAppProvider(store, true))
	dispatcher.SetClock(clock)

	svc := NewService(settings, store, runner, engine, dispatcher, nil, nil)
	svc.SetClock(clock)
	return svc
}

func daysAgo(now time.Time, days int) *time.Time {
	t := now.AddDate(0, 0, -days)
	return &t
}

func TestDisabledCapabilityShortCircuitsBeforeStoreAccess(t *testing.T) {
	t.Parallel()
	settings := conf.Default()
	settings.Insights.Churn.Enabled = false

	// A nil store proves the disabled path never reaches the datastore.
	svc := NewService(settings, nil, batch.NewRunner(nil, nil), nil, nil, nil, nil)

	result, err := svc.RunChurnScoring(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Equal(t, "churn-scoring", result.Capability)
	assert.Zero(t, result.Processed)
}

func TestChurnScoringAndAlertingEndToEnd(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	settings := conf.Default()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Score components with the clock pinned at now:
	// high:  120d attendance (50) + rate 0.5 (15) + 90d giving (10) = 75
	// mid:    96d attendance (40) + rate 0.2 (24) + 45d giving  (5) = 69
	// low:     3d attendance      + rate 0.9      +  9d giving      =  5.25
	high := datastore.Member{BranchID: 1, Name: "Harriet High",
		LastAttendanceAt: daysAgo(now, 120), AttendanceRate30d: 0.5, LastGivingAt: daysAgo(now, 90)}
	mid := datastore.Member{BranchID: 1, Name: "Milo Mid",
		LastAttendanceAt: daysAgo(now, 96), AttendanceRate30d: 0.2, LastGivingAt: daysAgo(now, 45)}
	low := datastore.Member{BranchID: 1, Name: "Lena Low",
		LastAttendanceAt: daysAgo(now, 3), AttendanceRate30d: 0.9, LastGivingAt: daysAgo(now, 9)}
	require.NoError(t, store.DB.Create(&high).Error)
	require.NoError(t, store.DB.Create(&mid).Error)
	require.NoError(t, store.DB.Create(&low).Error)

	for _, name := range []string{"admin-one", "admin-two"} {
		require.NoError(t, store.DB.Create(&datastore.User{
			BranchID: 1, Name: name, Email: name + "@example.org", Role: "admin",
		}).Error)
	}

	svc := newTestService(t, settings, store, now)

	scored, err := svc.RunChurnScoring(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, scored.Processed)
	assert.Zero(t, scored.Errors)

	// Each lookup gets a fresh struct: gorm folds a populated primary key
	// into the query conditions on reuse.
	var persistedHigh, persistedMid datastore.Member
	require.NoError(t, store.DB.First(&persistedHigh, high.ID).Error)
	assert.InDelta(t, 75, persistedHigh.ChurnScore, 0.5)
	assert.Equal(t, "high", persistedHigh.ChurnRiskLevel)
	require.NoError(t, store.DB.First(&persistedMid, mid.ID).Error)
	assert.InDelta(t, 69, persistedMid.ChurnScore, 0.5)

	result, err := svc.ProcessAlerts(context.Background(), 1, string(alerting.TypeChurnRisk), true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated, "only the member above the threshold may alert")
	assert.Equal(t, 1, result.NotificationsSent)

	var alerts []datastore.Alert
	require.NoError(t, store.DB.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, string(alerting.TypeChurnRisk), alerts[0].Type)
	assert.Equal(t, high.ID, alerts[0].EntityID)
	assert.True(t, alerts[0].Immediate)

	var count int64
	require.NoError(t, store.DB.Model(&datastore.Notification{}).Count(&count).Error)
	assert.EqualValues(t, 2, count, "one in-app notification per admin")
}

func TestLifecycleAlertOnlyOnFreshTransition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 120 days without attendance classifies the member as lapsed.
	member := datastore.Member{BranchID: 1, Name: "Lars Lapsed",
		LastAttendanceAt: daysAgo(now, 120), AttendanceRate30d: 0}
	require.NoError(t, store.DB.Create(&member).Error)
	require.NoError(t, store.DB.Create(&datastore.User{
		BranchID: 1, Name: "admin", Email: "admin@example.org", Role: "admin",
	}).Error)

	svc := newTestService(t, conf.Default(), store, now)
	result, err := svc.RunLifecycleDetection(context.Background(), 1, 50, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitions)
	assert.Equal(t, 1, result.AlertsCreated, "first decline into lapsed must alert")

	// A day later the member is still lapsed. Rescoring confirms the stage
	// without a transition, so even with the cooldown expired no new alert
	// may be created.
	later := newTestService(t, conf.Default(), store, now.Add(25*time.Hour))
	result, err = later.RunLifecycleDetection(context.Background(), 1, 50, true)
	require.NoError(t, err)
	assert.Zero(t, result.Transitions)
	assert.Zero(t, result.AlertsCreated, "unchanged lapsed member must not re-candidate")

	var count int64
	require.NoError(t, store.DB.Model(&datastore.Alert{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestProcessAlertsWithoutNotificationsCreatesNone(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	member := datastore.Member{BranchID: 1, Name: "Harriet High",
		LastAttendanceAt: daysAgo(now, 120), AttendanceRate30d: 0.1, LastGivingAt: daysAgo(now, 180)}
	require.NoError(t, store.DB.Create(&member).Error)
	require.NoError(t, store.DB.Create(&datastore.User{
		BranchID: 1, Name: "admin", Email: "admin@example.org", Role: "admin",
	}).Error)

	svc := newTestService(t, conf.Default(), store, now)
	_, err := svc.RunChurnScoring(context.Background(), 1, 50)
	require.NoError(t, err)

	result, err := svc.ProcessAlerts(context.Background(), 1, string(alerting.TypeChurnRisk), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Zero(t, result.NotificationsSent)

	var count int64
	require.NoError(t, store.DB.Model(&datastore.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProcessAlertsRejectsUnknownType(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	svc := newTestService(t, conf.Default(), store, time.Now().UTC())

	_, err := svc.ProcessAlerts(context.Background(), 1, "not-a-type", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown alert type")
}

func TestAttendanceForecastStoresProjection(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Now().UTC()

	// Eight weeks of attendance history inside the lookback window.
	for week := 8; week >= 1; week-- {
		require.NoError(t, store.DB.Create(&datastore.AttendanceRecord{
			BranchID:    1,
			ServiceDate: now.AddDate(0, 0, -7*week),
			Count:       100 + (8-week)*5,
		}).Error)
	}

	svc := newTestService(t, conf.Default(), store, now)
	result, err := svc.RunAttendanceForecast(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Processed, "one processed unit per history week")

	var forecasts []datastore.Forecast
	require.NoError(t, store.DB.Find(&forecasts).Error)
	require.Len(t, forecasts, 1)
	assert.Equal(t, "attendance", forecasts[0].Kind)
	assert.Equal(t, 4, forecasts[0].Horizon)
	assert.Contains(t, forecasts[0].Payload, "points")
}

func TestFinancialForecastWithThinHistoryIsCleanNoOp(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Now().UTC()

	// A single month of giving is not enough to fit a trend.
	require.NoError(t, store.DB.Create(&datastore.Contribution{
		BranchID: 1, GivenAt: now.AddDate(0, 0, -10), Fund: "general", Amount: 1200,
	}).Error)

	svc := newTestService(t, conf.Default(), store, now)
	result, err := svc.RunFinancialForecast(context.Background(), 1, "giving", 3)
	require.NoError(t, err, "thin history must not fail the job")
	assert.Zero(t, result.Processed)

	var count int64
	require.NoError(t, store.DB.Model(&datastore.Forecast{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSendAlertDigestCountsSends(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.DB.Create(&datastore.User{
		BranchID: 1, Name: "admin", Email: "admin@example.org", Role: "admin",
	}).Error)
	require.NoError(t, store.InsertAlert(&datastore.Alert{
		ID: "digest-alert-1", BranchID: 1, Type: string(alerting.TypeLifecycleChange),
		Severity: string(alerting.SeverityMedium), Title: "stage change", Message: "declining",
		CreatedAt: now.Add(-2 * time.Hour),
	}))

	svc := newTestService(t, conf.Default(), store, now)
	result, err := svc.SendAlertDigest(context.Background(), 1, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotificationsSent)

	var count int64
	require.NoError(t, store.DB.Model(&datastore.Notification{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRunAllBranchesCoversEveryBranch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	now := time.Now().UTC()

	for branch := uint(1); branch <= 3; branch++ {
		require.NoError(t, store.DB.Create(&datastore.Member{
			BranchID: branch, Name: "member", LastAttendanceAt: daysAgo(now, 3), AttendanceRate30d: 0.8,
		}).Error)
	}

	svc := newTestService(t, conf.Default(), store, now)

	var mu sync.Mutex
	seen := map[uint]bool{}
	err := svc.RunAllBranches(context.Background(), func(_ context.Context, branchID uint) error {
		mu.Lock()
		seen[branchID] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[uint]bool{1: true, 2: true, 3: true}, seen)
}
