package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("create: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: allocation_rules.fund_type")))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23514"}))
}

func TestIsCheckViolationErr(t *testing.T) {
	assert.True(t, IsCheckViolationErr(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsCheckViolationErr(errors.New("CHECK constraint failed: chk_allocation_rules_split")))
	assert.False(t, IsCheckViolationErr(errors.New("boom")))
}
