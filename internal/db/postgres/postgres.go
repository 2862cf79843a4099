package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jusunglee/kaitoribot/internal/db"
)

//go:embed schema.sql
var schemaSQL string

// Repository implements db.Repository using PostgreSQL via pgx
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL repository and applies the schema
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 30 * time.Second
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// PoolStats exposes pgxpool statistics for the metrics exporter
func (r *Repository) PoolStats() *pgxpool.Stat {
	return r.pool.Stat()
}

// Assessment methods

func (r *Repository) CreateAssessment(ctx context.Context, arg db.CreateAssessmentParams) (db.Assessment, error) {
	a := db.Assessment{
		UserID:       arg.UserID,
		Source:       arg.Source,
		Input:        arg.Input,
		Category:     arg.Category,
		Brand:        arg.Brand,
		Model:        arg.Model,
		EstimateLow:  arg.EstimateLow,
		EstimateHigh: arg.EstimateHigh,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO assessments (user_id, source, input, category, brand, model, estimate_low, estimate_high)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, arg.UserID, arg.Source, arg.Input, arg.Category, arg.Brand, arg.Model, arg.EstimateLow, arg.EstimateHigh).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return db.Assessment{}, fmt.Errorf("inserting assessment: %w", err)
	}
	return a, nil
}

// Inquiry methods

func (r *Repository) CreateInquiry(ctx context.Context, arg db.CreateInquiryParams) (db.Inquiry, error) {
	var i db.Inquiry
	err := r.pool.QueryRow(ctx, `
		INSERT INTO inquiries (user_id, kind, message)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, kind, message, created_at
	`, arg.UserID, arg.Kind, arg.Message).Scan(&i.ID, &i.UserID, &i.Kind, &i.Message, &i.CreatedAt)
	if err != nil {
		return db.Inquiry{}, convertErr(err)
	}
	return i, nil
}

func (r *Repository) ListInquiries(ctx context.Context, arg db.ListInquiriesParams) ([]db.Inquiry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, message, created_at
		FROM inquiries
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.Inquiry, error) {
		var i db.Inquiry
		err := row.Scan(&i.ID, &i.UserID, &i.Kind, &i.Message, &i.CreatedAt)
		return i, err
	})
}

func (r *Repository) CountInquiries(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inquiries`).Scan(&count)
	return count, err
}

// Broadcast methods

func (r *Repository) CreateBroadcast(ctx context.Context, arg db.CreateBroadcastParams) (db.Broadcast, error) {
	var b db.Broadcast
	err := r.pool.QueryRow(ctx, `
		INSERT INTO broadcasts (triggered_by, body)
		VALUES ($1, $2)
		RETURNING id, triggered_by, body, created_at
	`, arg.Trigger, arg.Body).Scan(&b.ID, &b.Trigger, &b.Body, &b.CreatedAt)
	if err != nil {
		return db.Broadcast{}, convertErr(err)
	}
	return b, nil
}

func (r *Repository) LatestBroadcast(ctx context.Context, trigger string) (db.Broadcast, error) {
	var b db.Broadcast
	err := r.pool.QueryRow(ctx, `
		SELECT id, triggered_by, body, created_at
		FROM broadcasts
		WHERE triggered_by = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, trigger).Scan(&b.ID, &b.Trigger, &b.Body, &b.CreatedAt)
	if err != nil {
		return db.Broadcast{}, convertErr(err)
	}
	return b, nil
}

func convertErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return db.ErrNoRows
	}
	return err
}
