package database

import (
	"context"
)

// Repository provides data access methods over the backtest metadata
// schema (analyses, backtest_summary). Domain-specific operations live in
// repository_analysis.go; this file holds the shared handle.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance.
func (r *Repository) GetDB() *DB {
	return r.db
}
