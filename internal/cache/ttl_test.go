package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestRuleCacheInvalidate(t *testing.T) {
	c := NewRuleCache()
	rule := &domain.AllocationRule{ID: 7, FundType: fund.TypeZM, EffectiveYear: 2023}

	gen := c.Generation()
	require.True(t, c.Set(gen, fund.TypeZM, 2024, RuleLookup{Rule: rule}))
	require.True(t, c.Set(gen, fund.TypeIFS, 2024, RuleLookup{}))

	got, ok := c.Get(fund.TypeZM, 2024)
	require.True(t, ok)
	require.NotNil(t, got.Rule)
	assert.Equal(t, 2023, got.Rule.EffectiveYear)

	rule.EffectiveYear = 1999
	got, _ = c.Get(fund.TypeZM, 2024)
	assert.Equal(t, 2023, got.Rule.EffectiveYear)

	miss, ok := c.Get(fund.TypeIFS, 2024)
	require.True(t, ok)
	assert.Nil(t, miss.Rule)

	c.Invalidate()
	_, ok = c.Get(fund.TypeZM, 2024)
	assert.False(t, ok)
}

func TestRuleCacheDropsLoadThatRacedInvalidate(t *testing.T) {
	c := NewRuleCache()
	stale := &domain.AllocationRule{ID: 7, FundType: fund.TypeZM, EffectiveYear: 2024}

	gen := c.Generation()
	c.Invalidate()
	assert.False(t, c.Set(gen, fund.TypeZM, 2024, RuleLookup{Rule: stale}))
	_, ok := c.Get(fund.TypeZM, 2024)
	assert.False(t, ok)

	assert.True(t, c.Set(c.Generation(), fund.TypeZM, 2024, RuleLookup{Rule: stale, Version: 3}))
	got, ok := c.Get(fund.TypeZM, 2024)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)
}
