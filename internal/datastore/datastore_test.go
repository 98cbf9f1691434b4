package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflock/careflock-go/internal/conf"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	settings := conf.Default()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMembers(t *testing.T, store *SQLiteStore, branchID uint, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, store.DB.Create(&Member{BranchID: branchID}).Error)
	}
}

func TestChunkEntitiesPagesInStableOrder(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedMembers(t, store, 1, 7)
	seedMembers(t, store, 2, 3) // other branch, must not appear

	var chunkSizes []int
	var seen []uint
	err := store.ChunkEntities(context.Background(), 1, KindMember, 3, func(batch []Scoreable) error {
		chunkSizes = append(chunkSizes, len(batch))
		for _, e := range batch {
			seen = append(seen, e.GetID())
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1}, chunkSizes)
	require.Len(t, seen, 7)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "ids must ascend")
	}
}

func TestChunkEntitiesEmptyBranch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	calls := 0
	err := store.ChunkEntities(context.Background(), 99, KindMember, 50, func(batch []Scoreable) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestUpdateScoreFields(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedMembers(t, store, 1, 1)

	now := time.Now().UTC().Truncate(time.Second)
	err := store.UpdateScoreFields(KindMember, 1, map[string]any{
		"churn_score":         72.5,
		"churn_risk_level":    "high",
		"churn_calculated_at": now,
	})
	require.NoError(t, err)

	var member Member
	require.NoError(t, store.DB.First(&member, 1).Error)
	assert.InDelta(t, 72.5, member.ChurnScore, 0.001)
	assert.Equal(t, "high", member.ChurnRiskLevel)
	require.NotNil(t, member.ChurnCalculatedAt)
	assert.WithinDuration(t, now, *member.ChurnCalculatedAt, time.Second)
}

func TestUpdateScoreFieldsMissingEntity(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	err := store.UpdateScoreFields(KindMember, 12345, map[string]any{"churn_score": 1.0})
	require.Error(t, err)
}

func TestMembersInStagesRequiresFreshTransition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-48 * time.Hour)

	fresh := Member{BranchID: 1, Name: "fresh", LifecycleStage: "lapsed", LifecycleTransitionedAt: &recent}
	old := Member{BranchID: 1, Name: "old", LifecycleStage: "lapsed", LifecycleTransitionedAt: &stale}
	never := Member{BranchID: 1, Name: "never", LifecycleStage: "lapsed"}
	require.NoError(t, store.DB.Create(&fresh).Error)
	require.NoError(t, store.DB.Create(&old).Error)
	require.NoError(t, store.DB.Create(&never).Error)

	members, err := store.MembersInStages(1, []string{"declining", "lapsed"}, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, members, 1, "only a transition inside the window qualifies")
	assert.Equal(t, fresh.ID, members[0].ID)
}

func TestGetOrCreateAlertSettingAppliesDefaults(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	threshold := 70.0
	defaults := AlertSettingDefaults{
		Enabled:        true,
		Threshold:      &threshold,
		CooldownHours:  24,
		Channels:       []string{"in-app", "email"},
		RecipientRoles: []string{"admin", "pastor"},
	}

	setting, err := store.GetOrCreateAlertSetting(1, "churn-risk", defaults)
	require.NoError(t, err)
	assert.True(t, setting.Enabled)
	require.NotNil(t, setting.Threshold)
	assert.InDelta(t, 70.0, *setting.Threshold, 0.001)
	assert.Equal(t, 24, setting.CooldownHours)
	assert.Equal(t, []string{"in-app", "email"}, SplitList(setting.Channels))
	assert.Nil(t, setting.LastTriggeredAt)

	// Second access returns the same row, ignoring new defaults.
	other := AlertSettingDefaults{Enabled: false, CooldownHours: 1}
	again, err := store.GetOrCreateAlertSetting(1, "churn-risk", other)
	require.NoError(t, err)
	assert.Equal(t, setting.ID, again.ID)
	assert.True(t, again.Enabled)
	assert.Equal(t, 24, again.CooldownHours)
}

func TestMarkAlertTriggeredCompareAndSet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	setting, err := store.GetOrCreateAlertSetting(1, "churn-risk", AlertSettingDefaults{Enabled: true, CooldownHours: 24})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)

	// First trigger against a nil previous value wins.
	won, err := store.MarkAlertTriggered(setting.ID, nil, now)
	require.NoError(t, err)
	assert.True(t, won)

	// A racer still holding the stale nil observation loses.
	won, err = store.MarkAlertTriggered(setting.ID, nil, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, won)

	// Advancing from the current value wins again.
	won, err = store.MarkAlertTriggered(setting.ID, &now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, won)
}

func TestAlertsSinceFiltersAndOrders(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	now := time.Now().UTC()
	mkAlert := func(id string, age time.Duration) {
		require.NoError(t, store.InsertAlert(&Alert{
			ID: id, BranchID: 1, Type: "churn-risk", Severity: "high",
			CreatedAt: now.Add(-age),
		}))
	}
	mkAlert("recent", time.Hour)
	mkAlert("old", 25*time.Hour)
	mkAlert("mid", 10*time.Hour)

	alerts, err := store.AlertsSince(1, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "recent", alerts[0].ID)
	assert.Equal(t, "mid", alerts[1].ID)
}

func TestUsersWithRoles(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.DB.Create(&User{BranchID: 1, Name: "Ana", Role: "admin"}).Error)
	require.NoError(t, store.DB.Create(&User{BranchID: 1, Name: "Ben", Role: "pastor"}).Error)
	require.NoError(t, store.DB.Create(&User{BranchID: 1, Name: "Cal", Role: "volunteer"}).Error)
	require.NoError(t, store.DB.Create(&User{BranchID: 2, Name: "Dee", Role: "admin"}).Error)

	users, err := store.UsersWithRoles(1, []string{"admin", "pastor"})
	require.NoError(t, err)
	require.Len(t, users, 2)

	none, err := store.UsersWithRoles(1, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWeeklyAttendanceAggregates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	now := time.Now().UTC()
	// Two services in the current week, one last week.
	require.NoError(t, store.DB.Create(&AttendanceRecord{BranchID: 1, ServiceDate: now.AddDate(0, 0, -1), Count: 80}).Error)
	require.NoError(t, store.DB.Create(&AttendanceRecord{BranchID: 1, ServiceDate: now.AddDate(0, 0, -1), Count: 20}).Error)
	require.NoError(t, store.DB.Create(&AttendanceRecord{BranchID: 1, ServiceDate: now.AddDate(0, 0, -8), Count: 90}).Error)

	stats, err := store.WeeklyAttendance(1, 12)
	require.NoError(t, err)
	require.NotEmpty(t, stats)

	var total int
	for _, s := range stats {
		total += s.Total
	}
	assert.Equal(t, 190, total)
	for i := 1; i < len(stats); i++ {
		assert.True(t, stats[i].WeekStart.After(stats[i-1].WeekStart), "weeks must ascend")
	}
}
