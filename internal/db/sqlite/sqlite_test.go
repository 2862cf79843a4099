package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateAssessment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.CreateAssessment(ctx, db.CreateAssessmentParams{
		UserID:       "U1",
		Source:       "text",
		Input:        "Switch HAC-001",
		Category:     "ゲーム機",
		Brand:        "Nintendo",
		Model:        "Switch",
		EstimateLow:  8000,
		EstimateHigh: 12000,
	})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, "U1", a.UserID)
	assert.Equal(t, int64(12000), a.EstimateHigh)
	assert.WithinDuration(t, time.Now(), a.CreatedAt, time.Minute)
}

func TestInquiries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	count, err := repo.CountInquiries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := range 5 {
		_, err := repo.CreateInquiry(ctx, db.CreateInquiryParams{
			UserID:  fmt.Sprintf("U%d", i),
			Kind:    "contact",
			Message: "お問い合わせ",
		})
		require.NoError(t, err)
	}

	count, err = repo.CountInquiries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	page, err := repo.ListInquiries(ctx, db.ListInquiriesParams{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "U4", page[0].UserID, "newest first")
	assert.Equal(t, "U3", page[1].UserID)

	last, err := repo.ListInquiries(ctx, db.ListInquiriesParams{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "U0", last[0].UserID)
}

func TestBroadcasts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LatestBroadcast(ctx, "schedule")
	assert.ErrorIs(t, err, db.ErrNoRows)

	first, err := repo.CreateBroadcast(ctx, db.CreateBroadcastParams{Trigger: "schedule", Body: "week 1"})
	require.NoError(t, err)
	assert.Equal(t, "schedule", first.Trigger)

	for i := range 25 {
		_, err = repo.CreateBroadcast(ctx, db.CreateBroadcastParams{Trigger: "admin", Body: fmt.Sprintf("sale %d", i)})
		require.NoError(t, err)
	}

	latest, err := repo.LatestBroadcast(ctx, "schedule")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, "week 1", latest.Body)

	admin, err := repo.LatestBroadcast(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "sale 24", admin.Body)
}
