package db

import (
	"context"
	"errors"
	"time"
)

// ErrNoRows is returned when an insert comes back without the stored row.
var ErrNoRows = errors.New("no rows in result set")

// Assessment is one AI estimate given to a customer
type Assessment struct {
	ID           int64
	UserID       string
	Source       string
	Input        string
	Category     string
	Brand        string
	Model        string
	EstimateLow  int64
	EstimateHigh int64
	CreatedAt    time.Time
}

// Inquiry is a customer request that needs a staff follow-up
type Inquiry struct {
	ID        int64
	UserID    string
	Kind      string
	Message   string
	CreatedAt time.Time
}

// Broadcast is a record of a message sent to every friend of the account
type Broadcast struct {
	ID        int64
	Trigger   string
	Body      string
	CreatedAt time.Time
}

type CreateAssessmentParams struct {
	UserID       string
	Source       string
	Input        string
	Category     string
	Brand        string
	Model        string
	EstimateLow  int64
	EstimateHigh int64
}

type CreateInquiryParams struct {
	UserID  string
	Kind    string
	Message string
}

type ListInquiriesParams struct {
	Limit  int32
	Offset int32
}

type CreateBroadcastParams struct {
	Trigger string
	Body    string
}

// Repository defines the interface for database operations
type Repository interface {
	// Assessments
	CreateAssessment(ctx context.Context, arg CreateAssessmentParams) (Assessment, error)

	// Inquiries
	CreateInquiry(ctx context.Context, arg CreateInquiryParams) (Inquiry, error)
	ListInquiries(ctx context.Context, arg ListInquiriesParams) ([]Inquiry, error)
	CountInquiries(ctx context.Context) (int64, error)

	// Broadcasts
	CreateBroadcast(ctx context.Context, arg CreateBroadcastParams) (Broadcast, error)
	// LatestBroadcast returns the newest broadcast sent by trigger, or
	// ErrNoRows when there is none.
	LatestBroadcast(ctx context.Context, trigger string) (Broadcast, error)

	// Lifecycle
	Close() error
}
