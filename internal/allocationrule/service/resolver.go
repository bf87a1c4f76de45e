package service

import (
	"context"
	"fmt"
	"time"

	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/cache"
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type resolverParams struct {
	fx.In

	Repository ruledomain.Repository
	Policy     *config.AllocationPolicyHolder
	Cache      cache.RuleCache `optional:"true"`
	Log        *zap.Logger
}

type resolver struct {
	repo   ruledomain.Repository
	policy *config.AllocationPolicyHolder
	cache  cache.RuleCache
	log    *zap.Logger
}

func NewResolver(p resolverParams) ruledomain.Resolver {
	c := p.Cache
	if c == nil {
		c = cache.NewRuleCache()
	}
	return &resolver{
		repo:   p.Repository,
		policy: p.Policy,
		cache:  c,
		log:    p.Log.Named("allocationrule.resolver"),
	}
}

func (r *resolver) Resolve(ctx context.Context, fundType fund.Type, date time.Time) (ruledomain.Resolution, error) {
	res, err := r.ResolveSplit(ctx, fundType, date)
	if err != nil {
		return ruledomain.Resolution{}, err
	}
	if res.Source == ruledomain.SourceRule {
		return res, nil
	}

	amil, ok := r.policy.Get().DefaultAmil(string(fundType))
	if !ok {
		return ruledomain.Resolution{}, fmt.Errorf("%w: fund_type=%s year=%d",
			ruledomain.ErrConfigurationMissing, fundType, date.UTC().Year())
	}
	res.AmilPct = amil
	return res, nil
}

func (r *resolver) ResolveSplit(ctx context.Context, fundType fund.Type, date time.Time) (ruledomain.Resolution, error) {
	if _, err := fund.ParseType(string(fundType)); err != nil {
		return ruledomain.Resolution{}, err
	}
	year := date.UTC().Year()

	// The version is read before the rule so a lookup never carries a newer
	// version than the row it holds.
	version, err := r.repo.Version(ctx)
	if err != nil {
		return ruledomain.Resolution{}, err
	}
	lookup, ok := r.cache.Get(fundType, year)
	if !ok || lookup.Version != version {
		gen := r.cache.Generation()
		rule, err := r.repo.FindLatest(ctx, string(fundType), year)
		if err != nil {
			return ruledomain.Resolution{}, err
		}
		lookup = cache.RuleLookup{Rule: rule, Version: version}
		r.cache.Set(gen, fundType, year, lookup)
	}

	if lookup.Rule != nil {
		return ruledomain.Resolution{
			FundType:      fundType,
			RemitPct:      lookup.Rule.RemitPct,
			RetainPct:     lookup.Rule.RetainPct,
			AmilPct:       lookup.Rule.AmilPct,
			Source:        ruledomain.SourceRule,
			EffectiveYear: lookup.Rule.EffectiveYear,
			RuleID:        lookup.Rule.ID,
		}, nil
	}

	remit := r.policy.Get().DefaultRemitPct
	return ruledomain.Resolution{
		FundType:  fundType,
		RemitPct:  remit,
		RetainPct: hundred.Sub(remit),
		Source:    ruledomain.SourceDefault,
	}, nil
}

func (r *resolver) Invalidate() {
	r.cache.Invalidate()
	r.log.Debug("allocation rule cache invalidated")
}
