package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/fund"
)

// Rules change rarely and every write invalidates explicitly, so the TTL only
// bounds memory for years nobody asks about any more.
const defaultRuleTTL = time.Hour

// RuleLookup is a cached rule lookup. A nil Rule records that no rule applies.
// Version is the shared rule version the lookup was loaded under.
type RuleLookup struct {
	Rule    *ruledomain.AllocationRule
	Version int64
}

// RuleCache holds allocation rule lookups keyed by fund type and year.
type RuleCache interface {
	Get(fundType fund.Type, year int) (RuleLookup, bool)
	// Generation changes on every Invalidate. Read it before loading a
	// lookup and hand it to Set.
	Generation() uint64
	// Set stores lookup unless the cache was invalidated after generation
	// was read, and reports whether it did.
	Set(generation uint64, fundType fund.Type, year int, lookup RuleLookup) bool
	Invalidate()
}

type ruleCache struct {
	mu      sync.Mutex
	gen     uint64
	entries Cache[string, RuleLookup]
	ttl     time.Duration
}

func NewRuleCache() RuleCache {
	return &ruleCache{
		entries: NewTTLCache[string, RuleLookup](),
		ttl:     defaultRuleTTL,
	}
}

func (c *ruleCache) Get(fundType fund.Type, year int) (RuleLookup, bool) {
	return c.entries.Get(cacheKey(string(fundType), strconv.Itoa(year)))
}

func (c *ruleCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *ruleCache) Set(generation uint64, fundType fund.Type, year int, lookup RuleLookup) bool {
	if lookup.Rule != nil {
		copied := *lookup.Rule
		lookup.Rule = &copied
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.gen {
		return false
	}
	c.entries.Set(cacheKey(string(fundType), strconv.Itoa(year)), lookup, c.ttl)
	return true
}

// Invalidate drops every cached lookup. A rule write can move the answer for
// any later year, so there is no narrower key to evict.
func (c *ruleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries.Purge()
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
