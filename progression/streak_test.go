package progression_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/testutil"
)

func newService(t *testing.T, db *gorm.DB) *progression.Service {
	t.Helper()
	levels, err := progression.NewLevels([]int64{0, 100, 250, 500, 1000})
	require.NoError(t, err)
	return progression.New(db, ledger.New(db), progression.Config{
		Levels:       levels,
		StreakWindow: 48 * time.Hour,
		ActivityXP:   10,
	})
}

func setStreakState(t *testing.T, db *gorm.DB, accountID uint, streak, longest int, lastActive time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"streak_days":    streak,
			"longest_streak": longest,
			"last_active_at": lastActive,
		}).Error)
}

func TestFirstActivityStartsStreak(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	acct := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	res, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, 1, res.Longest)
	assert.True(t, res.Incremented)
	assert.True(t, res.FirstToday)

	// The first activity of the day grants the daily XP.
	summary, err := svc.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.XPTotal)
}

func TestSameDayActivityDoesNotDouble(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	acct := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	_, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)

	// Same activity again, then a different activity the same day.
	res, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.False(t, res.Incremented)
	assert.False(t, res.FirstToday)

	res, err = svc.RecordActivity(ctx, acct.ID, "habit_checked")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.False(t, res.Incremented)

	summary, err := svc.GetSummary(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.XPTotal, "daily XP granted once")

	// One activity row per (type, day).
	var count int64
	require.NoError(t, db.Model(&models.ActivityEvent{}).Where("account_id = ?", acct.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestActivityWithinWindowExtendsStreak(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	acct := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	setStreakState(t, db, acct.ID, 3, 5, time.Now().Add(-25*time.Hour))

	res, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Streak)
	assert.True(t, res.Incremented)
	assert.Equal(t, 5, res.Longest, "high-water mark unchanged below record")
}

func TestGapBeyondWindowResetsToOne(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	acct := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	setStreakState(t, db, acct.ID, 9, 9, time.Now().Add(-49*time.Hour))

	res, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, 9, res.Longest, "longest streak survives the reset")
}

func TestLongestStreakHighWater(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	acct := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	setStreakState(t, db, acct.ID, 7, 7, time.Now().Add(-20*time.Hour))

	res, err := svc.RecordActivity(ctx, acct.ID, "goal_completed")
	require.NoError(t, err)
	assert.Equal(t, 8, res.Streak)
	assert.Equal(t, 8, res.Longest)
}

func TestSweepResetsStaleStreaks(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	stale := testutil.NewAccount(t, db, 0)
	fresh := testutil.NewAccount(t, db, 0)
	ctx := context.Background()

	setStreakState(t, db, stale.ID, 5, 5, time.Now().Add(-72*time.Hour))
	setStreakState(t, db, fresh.ID, 3, 3, time.Now().Add(-2*time.Hour))

	n, err := svc.SweepStreaks(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got models.Account
	require.NoError(t, db.First(&got, stale.ID).Error)
	assert.Equal(t, 0, got.StreakDays)
	assert.Equal(t, 5, got.LongestStreak)

	var gotFresh models.Account
	require.NoError(t, db.First(&gotFresh, fresh.ID).Error)
	assert.Equal(t, 3, gotFresh.StreakDays)

	// Re-running the sweep the same day touches nothing.
	n, err = svc.SweepStreaks(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
