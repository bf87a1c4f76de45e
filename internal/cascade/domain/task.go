package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/period"
)

var (
	ErrNotFound     = errors.New("recompute_task_not_found")
	ErrNotDead      = errors.New("recompute_task_not_dead")
	ErrInvalidRange = errors.New("invalid_rebuild_range")
	ErrRangeTooWide = errors.New("rebuild_range_too_wide")
	ErrUnknownType  = errors.New("unknown_task_type")
	ErrInvalidUnit  = errors.New("invalid_unit")
)

// MaxRebuildDays bounds a single rebuild request.
const MaxRebuildDays = 366

type TaskType string

const (
	TaskTransactionRecap  TaskType = "transaction_recap"
	TaskAllocationRecap   TaskType = "allocation_recap"
	TaskDistributionRecap TaskType = "distribution_recap"
	TaskAmilRightsRecap   TaskType = "amil_rights_recap"
	TaskUnitRollup        TaskType = "unit_rollup"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTransactionRecap, TaskAllocationRecap, TaskDistributionRecap, TaskAmilRightsRecap, TaskUnitRollup:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDead       Status = "dead"
)

// Task is one queued recomputation of a recap row.
type Task struct {
	ID            snowflake.ID       `gorm:"primaryKey" json:"id,string"`
	TaskType      TaskType           `gorm:"column:task_type;type:varchar(32);not null" json:"task_type"`
	UnitID        snowflake.ID       `gorm:"column:unit_id;not null" json:"unit_id,string"`
	Granularity   period.Granularity `gorm:"column:granularity;type:varchar(8);not null" json:"granularity"`
	PeriodKey     string             `gorm:"column:period_key;type:varchar(10);not null" json:"period_key"`
	PeriodDate    time.Time          `gorm:"column:period_date;type:date;not null" json:"period_date"`
	DedupeKey     string             `gorm:"column:dedupe_key;type:varchar(128);not null;index:ix_recompute_tasks_dedupe,priority:1" json:"dedupe_key"`
	Status        Status             `gorm:"column:status;type:varchar(16);not null;index:ix_recompute_tasks_dedupe,priority:2;index:ix_recompute_tasks_due,priority:1" json:"status"`
	Attempts      int                `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt time.Time          `gorm:"column:next_attempt_at;not null;index:ix_recompute_tasks_due,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time         `gorm:"column:locked_at" json:"locked_at,omitempty"`
	Source        string             `gorm:"column:source;type:varchar(64);not null" json:"source"`
	LastError     *string            `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	DeadReason    *string            `gorm:"column:dead_reason;type:varchar(64)" json:"dead_reason,omitempty"`
	CreatedAt     time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "recompute_tasks" }

func (t *Task) Ref() period.Ref {
	return period.NewRef(t.Granularity, t.PeriodDate)
}

// Spec names the row a task recomputes.
type Spec struct {
	Type   TaskType
	UnitID snowflake.ID
	Ref    period.Ref
}

func (s Spec) DedupeKey() string {
	return DedupeKey(s.Type, s.UnitID, s.Ref)
}

func DedupeKey(t TaskType, unitID snowflake.ID, ref period.Ref) string {
	return fmt.Sprintf("%s:%d:%s:%s", t, unitID, ref.Granularity, ref.Key())
}

// RebuildRequest asks for every recap of a unit over a date range.
type RebuildRequest struct {
	UnitID string `json:"unit_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type RebuildResponse struct {
	Enqueued int `json:"enqueued"`
}
