package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// getOptional scans the single row query returns into a new T. No row is
// reported as (nil, nil) so callers decide whether absence is an error.
func getOptional[T any](ctx context.Context, db sqlx.QueryerContext, query string, args ...any) (*T, error) {
	var row T
	if err := sqlx.GetContext(ctx, db, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
