// Package period maps dates onto the daily, monthly and yearly recap buckets.
package period

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidGranularity = errors.New("invalid_granularity")
	ErrInvalidPeriodKey   = errors.New("invalid_period_key")
)

type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

const (
	dailyLayout   = "2006-01-02"
	monthlyLayout = "2006-01"
	yearlyLayout  = "2006"
)

func All() []Granularity {
	return []Granularity{Daily, Monthly, Yearly}
}

func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case Daily, Monthly, Yearly:
		return g, nil
	default:
		return "", ErrInvalidGranularity
	}
}

func (g Granularity) Valid() bool {
	switch g {
	case Daily, Monthly, Yearly:
		return true
	}
	return false
}

// Parent returns the next coarser granularity.
func (g Granularity) Parent() (Granularity, bool) {
	switch g {
	case Daily:
		return Monthly, true
	case Monthly:
		return Yearly, true
	default:
		return "", false
	}
}

// Child returns the granularity whose recaps sum into g.
func (g Granularity) Child() (Granularity, bool) {
	switch g {
	case Yearly:
		return Monthly, true
	case Monthly:
		return Daily, true
	default:
		return "", false
	}
}

func (g Granularity) layout() string {
	switch g {
	case Monthly:
		return monthlyLayout
	case Yearly:
		return yearlyLayout
	default:
		return dailyLayout
	}
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Start returns the first instant of the period containing t.
func Start(g Granularity, t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Yearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return Day(t)
	}
}

// End returns the exclusive end of the period containing t.
func End(g Granularity, t time.Time) time.Time {
	start := Start(g, t)
	switch g {
	case Monthly:
		return start.AddDate(0, 1, 0)
	case Yearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Key formats the period containing t, e.g. 2024-03-15, 2024-03 or 2024.
func Key(g Granularity, t time.Time) string {
	return Start(g, t).Format(g.layout())
}

// Parse returns the period start for a key of granularity g.
func Parse(g Granularity, key string) (time.Time, error) {
	if !g.Valid() {
		return time.Time{}, ErrInvalidGranularity
	}
	t, err := time.ParseInLocation(g.layout(), strings.TrimSpace(key), time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidPeriodKey
	}
	return t, nil
}

// Ref identifies one recap bucket.
type Ref struct {
	Granularity Granularity
	Start       time.Time
}

func NewRef(g Granularity, t time.Time) Ref {
	return Ref{Granularity: g, Start: Start(g, t)}
}

func (r Ref) Key() string {
	return Key(r.Granularity, r.Start)
}

func (r Ref) End() time.Time {
	return End(r.Granularity, r.Start)
}

// Contains reports whether t falls inside the bucket.
func (r Ref) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(r.Start) && t.Before(r.End())
}

// Parent returns the enclosing coarser bucket.
func (r Ref) Parent() (Ref, bool) {
	parent, ok := r.Granularity.Parent()
	if !ok {
		return Ref{}, false
	}
	return NewRef(parent, r.Start), true
}

func (r Ref) String() string {
	return string(r.Granularity) + ":" + r.Key()
}
