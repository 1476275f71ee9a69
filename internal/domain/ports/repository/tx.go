package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside a storage transaction and hands the
// backend-specific handle to repositories through tx.
//
// Repositories MUST accept a nil tx and fall back to their own connection.
// The in-memory backend passes nil and serializes fn instead.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
