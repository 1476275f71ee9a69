package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/require"

	"defect-inspection/internal/domain"
)

func TestTranslateErr(t *testing.T) {
	require.NoError(t, translateErr("op", nil))
	require.ErrorIs(t, translateErr("op", pgx.ErrNoRows), domain.ErrNotFound)
	require.ErrorIs(t, translateErr("op", context.Canceled), context.Canceled)

	dup := &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key"}
	require.ErrorIs(t, translateErr("insert job", dup), domain.ErrAlreadyExists)

	err := translateErr("save job", errors.New("connection reset"))
	require.ErrorIs(t, err, domain.ErrInfrastructure)
	require.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetExecutor(t *testing.T) {
	_, err := getExecutor(nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = getExecutor(nil, "not a tx")
	require.ErrorIs(t, err, domain.ErrInvalidExecContext)
}

func TestIsTxConflict(t *testing.T) {
	conflict := translateErr("commit tx", &pgconn.PgError{Code: serializationFailure})
	require.True(t, isTxConflict(conflict))
	require.True(t, isTxConflict(&pgconn.PgError{Code: deadlockDetected}))
	require.False(t, isTxConflict(translateErr("insert job", &pgconn.PgError{Code: uniqueViolation})))
	require.False(t, isTxConflict(errors.New("boom")))
	require.False(t, isTxConflict(nil))
}
