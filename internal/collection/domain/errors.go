package domain

import "errors"

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidUnit      = errors.New("invalid_unit")
	ErrUnitNotFound     = errors.New("unit_not_found")
	ErrInvalidDate      = errors.New("invalid_date")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidRice      = errors.New("invalid_rice_quantity")
	ErrInvalidCount     = errors.New("invalid_count")
	ErrEmptyTransaction = errors.New("empty_transaction")
	ErrNotFound         = errors.New("not_found")
	ErrInvalidImport    = errors.New("invalid_import_file")
)
