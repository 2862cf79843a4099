package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jusunglee/kaitoribot/internal/db"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Repository implements db.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New opens (and if needed creates) the SQLite database at dbPath
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dbPath = strings.TrimPrefix(dbPath, "sqlite://")

	isNew := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		isNew = true
	}

	sqliteDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	sqliteDB.SetMaxOpenConns(1)

	if _, err := sqliteDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := sqliteDB.ExecContext(ctx, schemaSQL); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if isNew {
		slog.Info("created new SQLite database", "path", dbPath)
	}

	return &Repository{db: sqliteDB}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
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
	var createdAtStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO assessments (user_id, source, input, category, brand, model, estimate_low, estimate_high)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at
	`, arg.UserID, arg.Source, arg.Input, arg.Category, arg.Brand, arg.Model, arg.EstimateLow, arg.EstimateHigh).
		Scan(&a.ID, &createdAtStr)
	if err != nil {
		return db.Assessment{}, fmt.Errorf("inserting assessment: %w", err)
	}
	a.CreatedAt = parseTime(createdAtStr)
	return a, nil
}

// Inquiry methods

func (r *Repository) CreateInquiry(ctx context.Context, arg db.CreateInquiryParams) (db.Inquiry, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO inquiries (user_id, kind, message)
		VALUES (?, ?, ?)
		RETURNING id, user_id, kind, message, created_at
	`, arg.UserID, arg.Kind, arg.Message)
	return scanInquiry(row)
}

func (r *Repository) ListInquiries(ctx context.Context, arg db.ListInquiriesParams) ([]db.Inquiry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, created_at
		FROM inquiries
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inquiries []db.Inquiry
	for rows.Next() {
		inq, err := scanInquiry(rows)
		if err != nil {
			return nil, err
		}
		inquiries = append(inquiries, inq)
	}
	return inquiries, rows.Err()
}

func (r *Repository) CountInquiries(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inquiries`).Scan(&count)
	return count, err
}

// Broadcast methods

func (r *Repository) CreateBroadcast(ctx context.Context, arg db.CreateBroadcastParams) (db.Broadcast, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO broadcasts (triggered_by, body)
		VALUES (?, ?)
		RETURNING id, triggered_by, body, created_at
	`, arg.Trigger, arg.Body)
	return scanBroadcast(row)
}

func (r *Repository) LatestBroadcast(ctx context.Context, trigger string) (db.Broadcast, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, triggered_by, body, created_at
		FROM broadcasts
		WHERE triggered_by = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, trigger)
	return scanBroadcast(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInquiry(row scanner) (db.Inquiry, error) {
	var i db.Inquiry
	var createdAtStr string
	err := row.Scan(&i.ID, &i.UserID, &i.Kind, &i.Message, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Inquiry{}, db.ErrNoRows
	}
	if err != nil {
		return db.Inquiry{}, err
	}
	i.CreatedAt = parseTime(createdAtStr)
	return i, nil
}

func scanBroadcast(row scanner) (db.Broadcast, error) {
	var b db.Broadcast
	var createdAtStr string
	err := row.Scan(&b.ID, &b.Trigger, &b.Body, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Broadcast{}, db.ErrNoRows
	}
	if err != nil {
		return db.Broadcast{}, err
	}
	b.CreatedAt = parseTime(createdAtStr)
	return b, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
