package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// withTx returns a context whose repository calls run inside tx.
func withTx(ctx context.Context, tx querier) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// txFrom returns the transaction carried by ctx, or nil.
func txFrom(ctx context.Context) querier {
	tx, _ := ctx.Value(txKey{}).(querier)
	return tx
}

// BaseRepository resolves the connection per call: the transaction in the
// context when one is open, the pool otherwise.
type BaseRepository struct {
	pool *pgxpool.Pool
}

func NewBaseRepository(pool *pgxpool.Pool) BaseRepository {
	return BaseRepository{pool: pool}
}

func (r *BaseRepository) conn(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return r.pool
}
