package domain

import (
	"errors"

	"github.com/smallbiznis/ziswaf/internal/allocation"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
)

var (
	ErrInvalidUnit  = errors.New("invalid_unit")
	ErrNotFound     = errors.New("not_found")
	ErrInvalidKind  = errors.New("invalid_recap_kind")
	ErrRangeTooWide = errors.New("period_range_too_wide")

	// Re-exported so callers of this package can classify rebuild failures
	// without importing the math and rule packages.
	ErrConsistencyViolation = allocation.ErrConsistencyViolation
	ErrConfigurationMissing = ruledomain.ErrConfigurationMissing
)
