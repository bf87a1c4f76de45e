package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultRemitPct  = "30"
	defaultRiceScale = 3
)

// MaxRiceScale matches the numeric(20,3) rice columns and the recap
// checksums; allocating finer than the stored scale is rejected.
const MaxRiceScale int32 = 3

// AllocationConfig is the raw shape of the "allocation" section in allocation.yml.
// Percentages are strings so they never pass through float64.
type AllocationConfig struct {
	DefaultRemitPct string            `mapstructure:"defaultRemitPct"`
	DefaultAmilPct  map[string]string `mapstructure:"defaultAmilPct"`
	AmilRights      map[string]string `mapstructure:"amilRights"`
	RiceScale       int32             `mapstructure:"riceScale"`
}

// AllocationPolicy is the validated, parsed allocation configuration.
type AllocationPolicy struct {
	DefaultRemitPct decimal.Decimal
	// DefaultAmilPct is keyed by fund type code (ZF, ZM, IFS). A missing key
	// means no default exists for that fund type.
	DefaultAmilPct map[string]decimal.Decimal
	AmilRightsPct  map[string]decimal.Decimal
	RiceScale      int32
}

func (p AllocationPolicy) DefaultAmil(fundType string) (decimal.Decimal, bool) {
	pct, ok := p.DefaultAmilPct[strings.ToUpper(strings.TrimSpace(fundType))]
	return pct, ok
}

func (p AllocationPolicy) AmilRights(fundType string) decimal.Decimal {
	return p.AmilRightsPct[strings.ToUpper(strings.TrimSpace(fundType))]
}

func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{
		DefaultRemitPct: defaultRemitPct,
		DefaultAmilPct:  map[string]string{},
		AmilRights: map[string]string{
			"ZF":  "12.5",
			"ZM":  "12.5",
			"IFS": "20",
		},
		RiceScale: defaultRiceScale,
	}
}

type AllocationPolicyHolder struct {
	current atomic.Value // holds AllocationPolicy
}

// NewStaticAllocationPolicyHolder wraps a fixed policy, without file watching.
func NewStaticAllocationPolicyHolder(policy AllocationPolicy) *AllocationPolicyHolder {
	holder := &AllocationPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewAllocationPolicyHolder(log *zap.Logger) (*AllocationPolicyHolder, error) {
	log = log.Named("config.allocation")
	v := viper.New()

	v.SetConfigName("allocation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/ziswaf/config")
	v.AddConfigPath("/etc/ziswaf")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ZISWAF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAllocationConfig()
	v.SetDefault("allocation.defaultRemitPct", defaults.DefaultRemitPct)
	v.SetDefault("allocation.amilRights", defaults.AmilRights)
	v.SetDefault("allocation.riceScale", defaults.RiceScale)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var raw AllocationConfig
	if err := v.UnmarshalKey("allocation", &raw); err != nil {
		return nil, err
	}
	policy, err := ParseAllocationConfig(raw)
	if err != nil {
		return nil, err
	}

	holder := NewStaticAllocationPolicyHolder(policy)
	if !fileFound {
		log.Info("allocation config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AllocationConfig
		if err := v.UnmarshalKey("allocation", &updated); err != nil {
			log.Warn("allocation config reload failed", zap.Error(err))
			return
		}
		parsed, err := ParseAllocationConfig(updated)
		if err != nil {
			log.Warn("invalid allocation config ignored", zap.Error(err))
			return
		}
		holder.current.Store(parsed)
		log.Info("allocation config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AllocationPolicyHolder) Get() AllocationPolicy {
	return h.current.Load().(AllocationPolicy)
}

// ParseAllocationConfig validates raw configuration and converts it to a policy.
func ParseAllocationConfig(raw AllocationConfig) (AllocationPolicy, error) {
	remitRaw := strings.TrimSpace(raw.DefaultRemitPct)
	if remitRaw == "" {
		remitRaw = defaultRemitPct
	}
	remit, err := parsePct("allocation.defaultRemitPct", remitRaw)
	if err != nil {
		return AllocationPolicy{}, err
	}

	amil, err := parsePctMap("allocation.defaultAmilPct", raw.DefaultAmilPct)
	if err != nil {
		return AllocationPolicy{}, err
	}
	rights, err := parsePctMap("allocation.amilRights", raw.AmilRights)
	if err != nil {
		return AllocationPolicy{}, err
	}

	scale := raw.RiceScale
	if scale <= 0 {
		scale = defaultRiceScale
	}
	if scale > MaxRiceScale {
		return AllocationPolicy{}, fmt.Errorf("allocation.riceScale must be at most %d", MaxRiceScale)
	}

	return AllocationPolicy{
		DefaultRemitPct: remit,
		DefaultAmilPct:  amil,
		AmilRightsPct:   rights,
		RiceScale:       scale,
	}, nil
}

func parsePctMap(field string, raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for key, value := range raw {
		code := strings.ToUpper(strings.TrimSpace(key))
		if code == "" {
			continue
		}
		pct, err := parsePct(field+"."+code, value)
		if err != nil {
			return nil, err
		}
		out[code] = pct
	}
	return out, nil
}

func parsePct(field, raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("%s must be within [0,100]", field)
	}
	return pct, nil
}
