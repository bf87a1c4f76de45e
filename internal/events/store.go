package events

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/pkg/repository"
	"gorm.io/gorm"
)

var ErrNotDeleted = errors.New("record_not_deleted")

// Record is a soft-deletable source row that can describe itself as a
// Snapshot.
type Record[T any] interface {
	*T
	GetID() snowflake.ID
	IsDeleted() bool
	Snapshot() *Snapshot
}

// RecordStore writes source records and publishes the matching lifecycle
// event inside the same transaction.
type RecordStore[T any, P Record[T]] struct {
	db         *gorm.DB
	repo       repository.Repository[T]
	publisher  Publisher
	recordType RecordType
	notFound   error
	now        func() time.Time
}

func NewRecordStore[T any, P Record[T]](
	db *gorm.DB,
	publisher Publisher,
	recordType RecordType,
	notFound error,
	now func() time.Time,
) *RecordStore[T, P] {
	if publisher == nil {
		publisher = NopPublisher
	}
	return &RecordStore[T, P]{
		db:         db,
		repo:       repository.ProvideStore[T](db),
		publisher:  publisher,
		recordType: recordType,
		notFound:   notFound,
		now:        now,
	}
}

// Repository exposes read access for listing.
func (s *RecordStore[T, P]) Repository() repository.Repository[T] {
	return s.repo
}

func (s *RecordStore[T, P]) Get(ctx context.Context, id snowflake.ID, withDeleted bool) (P, error) {
	rec, err := s.repo.FindByID(ctx, id, withDeleted)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, s.notFound
	}
	return P(rec), nil
}

func (s *RecordStore[T, P]) Create(ctx context.Context, rec P) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTrx(tx).Create(ctx, (*T)(rec)); err != nil {
			return err
		}
		return s.publish(ctx, tx, KindCreated, rec.GetID(), nil, rec.Snapshot())
	})
}

// Update loads a live record, applies mutate and saves it. The event is
// published only when a value-bearing field changed.
func (s *RecordStore[T, P]) Update(ctx context.Context, id snowflake.ID, mutate func(P) error) (P, error) {
	var out P
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		found, err := repo.FindByID(ctx, id, false)
		if err != nil {
			return err
		}
		if found == nil {
			return s.notFound
		}
		rec := P(found)
		before := rec.Snapshot()
		if err := mutate(rec); err != nil {
			return err
		}
		if err := repo.Save(ctx, (*T)(rec)); err != nil {
			return err
		}
		out = rec

		evt := New(KindUpdated, s.recordType, id, before, rec.Snapshot(), s.now())
		if !evt.ShouldDispatch() {
			return nil
		}
		return s.publisher.Publish(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RecordStore[T, P]) Delete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		found, err := repo.FindByID(ctx, id, false)
		if err != nil {
			return err
		}
		if found == nil {
			return s.notFound
		}
		if err := repo.SoftDelete(ctx, id); err != nil {
			return err
		}
		return s.publish(ctx, tx, KindDeleted, id, P(found).Snapshot(), nil)
	})
}

func (s *RecordStore[T, P]) Restore(ctx context.Context, id snowflake.ID) (P, error) {
	var out P
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		found, err := repo.FindByID(ctx, id, true)
		if err != nil {
			return err
		}
		if found == nil {
			return s.notFound
		}
		if !P(found).IsDeleted() {
			return ErrNotDeleted
		}
		if err := repo.Restore(ctx, id); err != nil {
			return err
		}
		restored, err := repo.FindByID(ctx, id, false)
		if err != nil {
			return err
		}
		if restored == nil {
			return s.notFound
		}
		out = P(restored)
		return s.publish(ctx, tx, KindRestored, id, nil, out.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForceDelete removes the row permanently, whether or not it was soft-deleted.
func (s *RecordStore[T, P]) ForceDelete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		found, err := repo.FindByID(ctx, id, true)
		if err != nil {
			return err
		}
		if found == nil {
			return s.notFound
		}
		if err := repo.ForceDelete(ctx, id); err != nil {
			return err
		}
		return s.publish(ctx, tx, KindForceDeleted, id, P(found).Snapshot(), nil)
	})
}

// CreateInTx inserts a record inside a caller-owned transaction, for bulk
// imports that commit many rows at once.
func (s *RecordStore[T, P]) CreateInTx(ctx context.Context, tx *gorm.DB, rec P) error {
	if err := s.repo.WithTrx(tx).Create(ctx, (*T)(rec)); err != nil {
		return err
	}
	return s.publish(ctx, tx, KindCreated, rec.GetID(), nil, rec.Snapshot())
}

func (s *RecordStore[T, P]) publish(ctx context.Context, tx *gorm.DB, kind Kind, id snowflake.ID, prev, curr *Snapshot) error {
	return s.publisher.Publish(ctx, tx, New(kind, s.recordType, id, prev, curr, s.now()))
}
