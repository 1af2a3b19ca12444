package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx abstracts over a pgx pool and a pgx transaction so repositories can
// run inside or outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// emptyAsNil keeps text[] columns NULL-free: empty Go slices round-trip as
// empty arrays.
func emptyAsNil(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
