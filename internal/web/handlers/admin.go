package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/stats"
)

// Broadcaster sends the weekly item announcement.
type Broadcaster interface {
	Broadcast(ctx context.Context, trigger string, items []string) error
}

// ActivityReader exposes read-only guard state.
type ActivityReader interface {
	Snapshot(userID string) (guard.Activity, bool)
	Now() time.Time
	Users() int
}

type AdminHandler struct {
	repo        db.Repository
	broadcaster Broadcaster
	guard       ActivityReader
	stats       stats.Store
	log         *slog.Logger
}

func NewAdminHandler(repo db.Repository, broadcaster Broadcaster, g ActivityReader, statsStore stats.Store, log *slog.Logger) *AdminHandler {
	return &AdminHandler{repo: repo, broadcaster: broadcaster, guard: g, stats: statsStore, log: log}
}

type broadcastRequest struct {
	Items []string `json:"items"`
}

func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.broadcaster.Broadcast(r.Context(), "admin", req.Items); err != nil {
		h.log.ErrorContext(r.Context(), "admin broadcast", "error", err)
		writeError(w, http.StatusBadGateway, "broadcast failed")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

type inquiryResponse struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (h *AdminHandler) ListInquiries(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pageParams(r)

	total, err := h.repo.CountInquiries(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "counting inquiries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rows, err := h.repo.ListInquiries(r.Context(), db.ListInquiriesParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "listing inquiries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	data := make([]inquiryResponse, len(rows))
	for i, row := range rows {
		data[i] = inquiryResponse{
			ID:        row.ID,
			UserID:    row.UserID,
			Kind:      row.Kind,
			Message:   row.Message,
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Data       []inquiryResponse `json:"data"`
		Pagination paginationMeta    `json:"pagination"`
	}{
		Data:       data,
		Pagination: paginationMeta{Page: page, Limit: limit, Total: total},
	})
}

type activityResponse struct {
	UserID        string  `json:"user_id"`
	LastMessageAt *string `json:"last_message_at"`
	Messages      int     `json:"messages"`
	Images        int     `json:"images"`
	Blocked       bool    `json:"blocked"`
	BlockedUntil  *string `json:"blocked_until"`
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	act, ok := h.guard.Snapshot(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "user not tracked")
		return
	}

	writeJSON(w, http.StatusOK, activityResponse{
		UserID:        userID,
		LastMessageAt: formatOptionalTime(act.LastMessageTime),
		Messages:      act.Messages,
		Images:        act.Images,
		Blocked:       h.guard.Now().Before(act.BlockedUntil),
		BlockedUntil:  formatOptionalTime(act.BlockedUntil),
	})
}

type statsResponse struct {
	TrackedUsers int          `json:"tracked_users"`
	Decisions    stats.Totals `json:"decisions"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.stats.Totals(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "reading stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TrackedUsers: h.guard.Users(),
		Decisions:    totals,
	})
}

func formatOptionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
