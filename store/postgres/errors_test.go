// store/postgres/errors_test.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ViniZap4/thesis-notes/domain"
)

func TestClassify(t *testing.T) {
	pgErr := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: code})
	}

	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, classify(pgErr(pgerrcode.UniqueViolation)), domain.ErrAlreadyExists)

	for _, code := range []string{
		pgerrcode.ConnectionFailure,
		pgerrcode.AdminShutdown,
		pgerrcode.TooManyConnections,
		pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
	} {
		assert.True(t, domain.IsTransient(classify(pgErr(code))), code)
	}
	for _, code := range []string{
		pgerrcode.UndefinedTable,
		pgerrcode.SyntaxError,
		pgerrcode.InsufficientPrivilege,
	} {
		assert.True(t, domain.IsPermanent(classify(pgErr(code))), code)
	}

	assert.True(t, domain.IsTransient(classify(io.ErrUnexpectedEOF)))
	assert.True(t, domain.IsTransient(classify(context.DeadlineExceeded)))
	assert.True(t, domain.IsPermanent(classify(errors.New("odd"))))
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/notes", migrateURL("postgres://u:p@db:5432/notes"))
	assert.Equal(t, "pgx5://db/notes?sslmode=disable", migrateURL("postgresql://db/notes?sslmode=disable"))
	assert.Equal(t, "pgx5://db/notes", migrateURL("pgx5://db/notes"))
}
