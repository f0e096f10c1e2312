package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Storage implementations decide its concrete
// type; repositories accept NoTX to run against the pool.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// handle to every repository call made with it. A returned error rolls back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
