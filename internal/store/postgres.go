package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals a missing pin, transfer request or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a failed compare-and-swap: the row's current
	// status no longer matches what the caller expected.
	ErrConflict = errors.New("state changed concurrently")
	// ErrAlreadyResolved signals an update against a transfer request
	// that has already left the pending state.
	ErrAlreadyResolved = errors.New("transfer request already resolved")
)

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}
