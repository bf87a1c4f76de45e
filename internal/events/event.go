// Package events carries source-record lifecycle changes from the write path
// to the recompute cascade.
package events

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindCreated      Kind = "created"
	KindUpdated      Kind = "updated"
	KindDeleted      Kind = "deleted"
	KindRestored     Kind = "restored"
	KindForceDeleted Kind = "force_deleted"
)

type RecordType string

const (
	RecordFundTransaction RecordType = "fund_transaction"
	RecordDistribution    RecordType = "distribution"
	RecordDeposit         RecordType = "deposit"
	RecordAllocationRule  RecordType = "allocation_rule"
	RecordUnit            RecordType = "unit"
)

// Snapshot captures the value-bearing state of a record. Metadata such as
// descriptions or references stays out of Values so editing it never
// triggers a recompute.
type Snapshot struct {
	UnitID snowflake.ID
	Date   time.Time
	Values map[string]string
}

const (
	FieldUnitID = "unit_id"
	FieldDate   = "date"
)

type Change struct {
	Field string
	Old   string
	New   string
}

type Event struct {
	Kind       Kind
	RecordType RecordType
	RecordID   snowflake.ID
	Previous   *Snapshot
	Current    *Snapshot
	Changes    []Change
	OccurredAt time.Time
}

// Publisher receives events inside the transaction that wrote the record.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, evt Event) error
}

type PublisherFunc func(ctx context.Context, tx *gorm.DB, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, tx *gorm.DB, evt Event) error {
	return f(ctx, tx, evt)
}

// NopPublisher drops every event.
var NopPublisher Publisher = PublisherFunc(func(context.Context, *gorm.DB, Event) error { return nil })

// Chain publishes to each non-nil publisher in order and stops at the
// first error, which rolls back the writer's transaction.
func Chain(publishers ...Publisher) Publisher {
	var chained []Publisher
	for _, p := range publishers {
		if p != nil {
			chained = append(chained, p)
		}
	}
	switch len(chained) {
	case 0:
		return NopPublisher
	case 1:
		return chained[0]
	}
	return PublisherFunc(func(ctx context.Context, tx *gorm.DB, evt Event) error {
		for _, p := range chained {
			if err := p.Publish(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func New(kind Kind, recordType RecordType, id snowflake.ID, prev, curr *Snapshot, at time.Time) Event {
	evt := Event{
		Kind:       kind,
		RecordType: recordType,
		RecordID:   id,
		Previous:   prev,
		Current:    curr,
		OccurredAt: at.UTC(),
	}
	if kind == KindUpdated {
		evt.Changes = Diff(prev, curr)
	}
	return evt
}

// Diff compares two snapshots field by field, including unit and date.
func Diff(prev, curr *Snapshot) []Change {
	before := flatten(prev)
	after := flatten(curr)

	fields := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		fields[k] = struct{}{}
	}
	for k := range after {
		fields[k] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []Change
	for _, name := range names {
		if before[name] != after[name] {
			changes = append(changes, Change{Field: name, Old: before[name], New: after[name]})
		}
	}
	return changes
}

func flatten(s *Snapshot) map[string]string {
	if s == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(s.Values)+2)
	for k, v := range s.Values {
		out[k] = v
	}
	if s.UnitID != 0 {
		out[FieldUnitID] = s.UnitID.String()
	}
	if !s.Date.IsZero() {
		out[FieldDate] = s.Date.UTC().Format("2006-01-02")
	}
	return out
}

// ShouldDispatch reports whether the event can affect derived data.
func (e Event) ShouldDispatch() bool {
	if e.Kind == KindUpdated {
		return len(e.Changes) > 0
	}
	return true
}

func (e Event) Changed(field string) bool {
	for _, c := range e.Changes {
		if c.Field == field {
			return true
		}
	}
	return false
}

// Key is a unit and calendar day touched by an event.
type Key struct {
	UnitID snowflake.ID
	Date   time.Time
}

// AffectedKeys returns the distinct (unit, day) pairs from both snapshots so
// that moving a record recomputes the old bucket as well as the new one.
func (e Event) AffectedKeys() []Key {
	var keys []Key
	seen := map[string]struct{}{}
	for _, s := range []*Snapshot{e.Previous, e.Current} {
		if s == nil {
			continue
		}
		day := s.Date.UTC()
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		id := s.UnitID.String() + "|" + day.Format("2006-01-02")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, Key{UnitID: s.UnitID, Date: day})
	}
	return keys
}

// Value returns a field from the current snapshot, falling back to the
// previous one for deletions.
func (e Event) Value(field string) string {
	if e.Current != nil {
		if v, ok := e.Current.Values[field]; ok {
			return v
		}
	}
	if e.Previous != nil {
		return e.Previous.Values[field]
	}
	return ""
}
