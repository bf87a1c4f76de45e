package domain

import "errors"

var (
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidEffectiveYear = errors.New("invalid_effective_year")
	ErrInvalidPercentage    = errors.New("invalid_percentage")
	ErrInvalidSplit         = errors.New("remit_retain_must_total_100")
	ErrNotFound             = errors.New("not_found")
	ErrDuplicateRule        = errors.New("duplicate_rule")

	// ErrConfigurationMissing means no rule and no configured default amil
	// percentage exist for a fund type.
	ErrConfigurationMissing = errors.New("allocation_configuration_incomplete")
)
