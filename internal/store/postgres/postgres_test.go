package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})
	other := &pgconn.PgError{Code: "42P01"}

	assert.True(t, isDuplicateKeyError(dup))
	assert.False(t, isDuplicateKeyError(other))
	assert.False(t, isDuplicateKeyError(errors.New("boom")))

	assert.True(t, isNotFoundError(fmt.Errorf("row: %w", pgx.ErrNoRows)))
	assert.False(t, isNotFoundError(other))
}
