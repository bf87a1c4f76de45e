package domain

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLog is one lifecycle change of a source record or configuration.
// Metadata holds the field diff and the before/after values; ChangedFields
// lists the diffed field names.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	ActorType     string            `gorm:"column:actor_type;type:varchar(16);not null" json:"actor_type"`
	ActorID       *string           `gorm:"column:actor_id;type:varchar(128)" json:"actor_id,omitempty"`
	Action        string            `gorm:"column:action;type:varchar(32);not null" json:"action"`
	RecordType    string            `gorm:"column:record_type;type:varchar(32);not null;index:ix_audit_logs_record,priority:1" json:"record_type"`
	RecordID      snowflake.ID      `gorm:"column:record_id;not null;index:ix_audit_logs_record,priority:2" json:"record_id,string"`
	UnitID        *snowflake.ID     `gorm:"column:unit_id;index" json:"unit_id,omitempty,string"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	ChangedFields ChangedFields     `gorm:"column:changed_fields" json:"changed_fields,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// ChangedFields is stored as a postgres text[] and as the array literal
// text on other dialects.
type ChangedFields []string

func (f *ChangedFields) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*f = ChangedFields(arr)
	return nil
}

func (f ChangedFields) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return pq.StringArray(f).Value()
}

func (ChangedFields) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

type ListAuditLogRequest struct {
	pagination.Pagination
	RecordType string `form:"record_type"`
	RecordID   string `form:"record_id"`
	UnitID     string `form:"unit_id"`
	Action     string `form:"action"`
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service records every published lifecycle event and lists the trail.
type Service interface {
	events.Publisher
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	RecordType string
	RecordID   snowflake.ID
	UnitID     snowflake.ID
	Action     string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidRecordType = errors.New("invalid_record_type")
	ErrInvalidRecordID   = errors.New("invalid_record_id")
	ErrInvalidUnitID     = errors.New("invalid_unit_id")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvalidTimeRange  = errors.New("invalid_time_range")
	ErrInvalidAction     = errors.New("invalid_action")
)
