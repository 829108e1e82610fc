package gate_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/testutil"
)

// memTierCache and memUsageStore stand in for the Redis implementations.
type memTierCache struct {
	mu    sync.Mutex
	tiers map[uint]string
}

func newMemTierCache() *memTierCache {
	return &memTierCache{tiers: map[uint]string{}}
}

func (c *memTierCache) Get(ctx context.Context, accountID uint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tier, ok := c.tiers[accountID]
	return tier, ok
}

func (c *memTierCache) Set(ctx context.Context, accountID uint, tier string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers[accountID] = tier
}

func (c *memTierCache) Invalidate(ctx context.Context, accountID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tiers, accountID)
}

type memUsageStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{counts: map[string]int64{}}
}

func usageKey(accountID uint, featureKey, date string) string {
	return fmt.Sprintf("%d:%s:%s", accountID, featureKey, date)
}

func (s *memUsageStore) Count(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[usageKey(accountID, featureKey, date)], nil
}

func (s *memUsageStore) Incr(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey(accountID, featureKey, date)
	s.counts[k]++
	return s.counts[k], nil
}

func TestTierGating(t *testing.T) {
	db := testutil.NewDB(t)
	ev := gate.NewEvaluator(db, gate.DefaultFeatures(), newMemTierCache(), newMemUsageStore())
	ctx := context.Background()

	free := testutil.NewAccount(t, db, 0)
	plus := testutil.NewAccount(t, db, 0)
	pro := testutil.NewAccount(t, db, 0)
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", plus.ID).Update("tier", models.TierPlus).Error)
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", pro.ID).Update("tier", models.TierPro).Error)

	cases := []struct {
		name    string
		account uint
		feature string
		allowed bool
		reason  string
	}{
		{"free denied plus feature", free.ID, "goals.unlimited", false, gate.ReasonTierRequired},
		{"plus allowed plus feature", plus.ID, "goals.unlimited", true, ""},
		{"pro allowed plus feature", pro.ID, "goals.unlimited", true, ""},
		{"plus denied pro feature", plus.ID, "teams.shared", false, gate.ReasonTierRequired},
		{"pro allowed pro feature", pro.ID, "teams.shared", true, ""},
		{"free allowed base feature", free.ID, "coach.daily", true, ""},
		{"unknown feature denied", free.ID, "nope.nothing", false, gate.ReasonUnknownFeature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ev.CanUse(ctx, tc.account, tc.feature)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestDailyLimitExhaustion(t *testing.T) {
	db := testutil.NewDB(t)
	ev := gate.NewEvaluator(db, gate.DefaultFeatures(), newMemTierCache(), newMemUsageStore())
	ctx := context.Background()
	acct := testutil.NewAccount(t, db, 0) // free tier: coach.daily limit 3

	for i := 0; i < 3; i++ {
		d, err := ev.CanUse(ctx, acct.ID, "coach.daily")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "use %d", i+1)
		assert.Equal(t, int64(3-i), d.Remaining)
		_, err = ev.RecordUse(ctx, acct.ID, "coach.daily")
		require.NoError(t, err)
	}

	d, err := ev.CanUse(ctx, acct.ID, "coach.daily")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, gate.ReasonLimitReached, d.Reason)
}

func TestHigherTierGetsHigherLimit(t *testing.T) {
	db := testutil.NewDB(t)
	usage := newMemUsageStore()
	ev := gate.NewEvaluator(db, gate.DefaultFeatures(), newMemTierCache(), usage)
	ctx := context.Background()

	acct := testutil.NewAccount(t, db, 0)
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", acct.ID).Update("tier", models.TierPlus).Error)

	// Exhaust the free limit's worth of uses; plus still has room.
	for i := 0; i < 3; i++ {
		_, err := ev.RecordUse(ctx, acct.ID, "coach.daily")
		require.NoError(t, err)
	}
	d, err := ev.CanUse(ctx, acct.ID, "coach.daily")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(22), d.Remaining)

	// Pro has no limit configured for the feature: unlimited.
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", acct.ID).Update("tier", models.TierPro).Error)
	ev.InvalidateAccount(ctx, acct.ID)
	d, err = ev.CanUse(ctx, acct.ID, "coach.daily")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestTierCacheInvalidation(t *testing.T) {
	db := testutil.NewDB(t)
	tiers := newMemTierCache()
	ev := gate.NewEvaluator(db, gate.DefaultFeatures(), tiers, newMemUsageStore())
	ctx := context.Background()
	acct := testutil.NewAccount(t, db, 0)

	d, err := ev.CanUse(ctx, acct.ID, "goals.unlimited")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// The tier changed in the database; the stale cache still answers until
	// invalidated.
	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", acct.ID).Update("tier", models.TierPlus).Error)
	d, err = ev.CanUse(ctx, acct.ID, "goals.unlimited")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "cached tier still free")

	ev.InvalidateAccount(ctx, acct.ID)
	d, err = ev.CanUse(ctx, acct.ID, "goals.unlimited")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestInactiveAccountDenied(t *testing.T) {
	db := testutil.NewDB(t)
	ev := gate.NewEvaluator(db, gate.DefaultFeatures(), newMemTierCache(), newMemUsageStore())
	ctx := context.Background()
	acct := testutil.NewAccount(t, db, 0)

	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", acct.ID).Update("active", false).Error)

	d, err := ev.CanUse(ctx, acct.ID, "coach.daily")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, gate.ReasonAccountInactive, d.Reason)
}
