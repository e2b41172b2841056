// Package testutil provides shared test utilities for rowguard integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Fixtures provides factory functions for creating test data.
// Rows are inserted through the owning connection, which bypasses row
// security, so fixtures can seed data no test actor could write.
type Fixtures struct {
	db  *sql.DB
	ctx context.Context
}

// NewFixtures creates a new Fixtures instance for data insertion.
func NewFixtures(ctx context.Context, db *sql.DB) *Fixtures {
	return &Fixtures{db: db, ctx: ctx}
}

// CreateTenant creates a single tenant and returns its ID.
func (f *Fixtures) CreateTenant(name string) (int64, error) {
	var id int64
	err := f.db.QueryRowContext(f.ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`,
		name,
	).Scan(&id)
	return id, err
}

// CreateUser creates a single user in the given tenant and returns its ID.
func (f *Fixtures) CreateUser(tenantID int64, username string) (int64, error) {
	var id int64
	err := f.db.QueryRowContext(f.ctx,
		`INSERT INTO users (tenant_id, username) VALUES ($1, $2) RETURNING id`,
		tenantID, username,
	).Scan(&id)
	return id, err
}

// CreatePost creates a single post and returns its ID.
// status must be one of: draft, published
func (f *Fixtures) CreatePost(userID int64, title, status string) (int64, error) {
	var id int64
	err := f.db.QueryRowContext(f.ctx,
		`INSERT INTO posts (user_id, title, status) VALUES ($1, $2, $3) RETURNING id`,
		userID, title, status,
	).Scan(&id)
	return id, err
}

// MarkPostDeleted sets the post's deletion timestamp.
func (f *Fixtures) MarkPostDeleted(postID int64) error {
	_, err := f.db.ExecContext(f.ctx,
		`UPDATE posts SET deleted_at = now() WHERE id = $1`,
		postID,
	)
	return err
}

// CreateInvoice creates a single invoice and returns its ID.
// total is in cents; status must be one of: pending, approved
func (f *Fixtures) CreateInvoice(tenantID, userID, total int64, status string) (int64, error) {
	var id int64
	err := f.db.QueryRowContext(f.ctx,
		`INSERT INTO invoices (tenant_id, user_id, total, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		tenantID, userID, total, status,
	).Scan(&id)
	return id, err
}

// CreateAuditEvent creates a single audit event and returns its ID.
func (f *Fixtures) CreateAuditEvent(action string) (int64, error) {
	var id int64
	err := f.db.QueryRowContext(f.ctx,
		`INSERT INTO audit_events (action) VALUES ($1) RETURNING id`,
		action,
	).Scan(&id)
	return id, err
}

// CreatePosts creates n posts owned by userID and returns their IDs.
// Used by benchmarks; inserts in batches for efficiency at scale.
func (f *Fixtures) CreatePosts(userID int64, n int, status string) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, n)

	// Use batch inserts for efficiency (1000 rows per batch)
	batchSize := 1000
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}

		batchIDs, err := f.insertPostsBatch(userID, status, i, end)
		if err != nil {
			return nil, fmt.Errorf("insert posts batch %d-%d: %w", i, end, err)
		}
		ids = append(ids, batchIDs...)
	}

	return ids, nil
}

func (f *Fixtures) insertPostsBatch(userID int64, status string, start, end int) ([]int64, error) {
	count := end - start
	ids := make([]int64, 0, count)

	// Build multi-row INSERT
	query := "INSERT INTO posts (user_id, title, status) VALUES "
	args := make([]any, 0, count*3)
	argIdx := 1

	for i := start; i < end; i++ {
		if i > start {
			query += ", "
		}
		query += fmt.Sprintf("($%d, $%d, $%d)", argIdx, argIdx+1, argIdx+2)
		args = append(args, userID, fmt.Sprintf("bench_post_%d", i), status)
		argIdx += 3
	}
	query += " RETURNING id"

	rows, err := f.db.QueryContext(f.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
