package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/metrics"
)

// SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// translateErr maps driver errors onto domain errors. Anything the store
// reports other than a missing row or a duplicate key is an infrastructure fault.
func translateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
	}
	metrics.IncStoreError(op)
	return domain.Infrastructure(op, err)
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, op, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	tag, err := ex.Exec(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(op, err)
	}
	return tag, nil
}

func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, sql, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, op, sql string, args ...interface{}) (pgx.Rows, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(op, err)
	}
	return rows, nil
}
