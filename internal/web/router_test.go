package web

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jusunglee/kaitoribot/internal/bot"
	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/db/sqlite"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "channel-secret"
	testAdminKey = "admin-key"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []bot.Event
}

func (d *recordingDispatcher) HandleEvents(_ context.Context, events []bot.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
	return nil
}

type fakeBroadcaster struct {
	items   []string
	trigger string
	err     error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, trigger string, items []string) error {
	f.trigger = trigger
	f.items = items
	return f.err
}

type testServer struct {
	handler     http.Handler
	router      *Router
	dispatcher  *recordingDispatcher
	broadcaster *fakeBroadcaster
	guard       *guard.Guard
	repo        *sqlite.Repository
	stats       *stats.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ts := &testServer{
		dispatcher:  &recordingDispatcher{},
		broadcaster: &fakeBroadcaster{},
		guard:       guard.New(guard.DefaultConfig(), guard.WithClock(guard.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))),
		repo:        repo,
		stats:       stats.NewMemoryStore(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.router = NewRouter(repo, log, ts.dispatcher, ts.broadcaster, ts.guard, ts.stats, Config{
		ChannelSecret: testSecret,
		AdminKey:      testAdminKey,
	})
	ts.handler = ts.router.Handler()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const webhookBody = `{
  "destination": "Uxxxxxxxx",
  "events": [
    {
      "type": "message",
      "mode": "active",
      "timestamp": 1700000000000,
      "webhookEventId": "01H0000000000000000000001",
      "deliveryContext": {"isRedelivery": false},
      "replyToken": "reply-1",
      "source": {"type": "user", "userId": "U1"},
      "message": {"type": "text", "id": "m1", "quoteToken": "q1", "text": "AI査定"}
    },
    {
      "type": "message",
      "mode": "active",
      "timestamp": 1700000000001,
      "webhookEventId": "01H0000000000000000000002",
      "deliveryContext": {"isRedelivery": false},
      "replyToken": "reply-2",
      "source": {"type": "group", "groupId": "G1", "userId": "U2"},
      "message": {"type": "image", "id": "m2", "quoteToken": "q2", "contentProvider": {"type": "line"}}
    },
    {
      "type": "follow",
      "mode": "active",
      "timestamp": 1700000000002,
      "webhookEventId": "01H0000000000000000000003",
      "deliveryContext": {"isRedelivery": false},
      "replyToken": "reply-3",
      "source": {"type": "user", "userId": "U3"},
      "follow": {"isUnblocked": false}
    }
  ]
}`

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestWebhook(t *testing.T) {
	t.Run("valid signature dispatches events", func(t *testing.T) {
		ts := newTestServer(t)
		body := []byte(webhookBody)
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Line-Signature", sign(body))

		rec := ts.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, ts.router.Webhook().Shutdown(ctx))

		ts.dispatcher.mu.Lock()
		defer ts.dispatcher.mu.Unlock()
		require.Len(t, ts.dispatcher.events, 3)
		assert.Equal(t, bot.Event{
			Type:        "message",
			UserID:      "U1",
			ReplyToken:  "reply-1",
			MessageType: "text",
			MessageID:   "m1",
			Text:        "AI査定",
		}, ts.dispatcher.events[0])
		assert.Equal(t, "U2", ts.dispatcher.events[1].UserID)
		assert.Equal(t, "image", ts.dispatcher.events[1].MessageType)
		assert.Equal(t, "m2", ts.dispatcher.events[1].MessageID)
		assert.Equal(t, "follow", ts.dispatcher.events[2].Type)
	})

	t.Run("invalid signature", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody))
		req.Header.Set("X-Line-Signature", "bm90LWEtc2lnbmF0dXJl")

		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ts.dispatcher.events)
	})

	t.Run("signed but malformed body is acknowledged", func(t *testing.T) {
		ts := newTestServer(t)
		body := []byte(`{"destination":"x","events":[{"type":"message",`)
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Line-Signature", sign(body))

		rec := ts.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, ts.router.Webhook().Shutdown(ctx))

		ts.dispatcher.mu.Lock()
		defer ts.dispatcher.mu.Unlock()
		assert.Empty(t, ts.dispatcher.events)
	})
}

func adminRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Admin-Key", testAdminKey)
	return req
}

func TestAdminBroadcast(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(adminRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`{"items":["iPhone","Switch"]}`)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
		assert.Equal(t, []string{"iPhone", "Switch"}, ts.broadcaster.items)
		assert.Equal(t, "admin", ts.broadcaster.trigger)
	})

	t.Run("wrong key", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`{"items":[]}`))
		req.Header.Set("X-Admin-Key", "guess")

		rec := ts.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "forbidden\n", rec.Body.String())
		assert.Nil(t, ts.broadcaster.items)
	})

	t.Run("bad body", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(adminRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`nope`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("send failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.broadcaster.err = errors.New("line down")
		rec := ts.do(adminRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`{"items":["x"]}`)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestAdminInquiries(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, kind := range []string{"contact", "pickup", "store_visit"} {
		_, err := ts.repo.CreateInquiry(ctx, db.CreateInquiryParams{UserID: "U1", Kind: kind, Message: kind})
		require.NoError(t, err)
	}

	rec := ts.do(adminRequest(http.MethodGet, "/admin/inquiries?page=1&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			Kind string `json:"kind"`
		} `json:"data"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, "store_visit", resp.Data[0].Kind)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Limit)
}

func TestAdminUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(adminRequest(http.MethodGet, "/admin/users/U1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.guard.Check("U1", true)
	ts.guard.Block("U1", ts.guard.Now(), 30*time.Minute)

	rec = ts.do(adminRequest(http.MethodGet, "/admin/users/U1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "U1", resp["user_id"])
	assert.Equal(t, float64(1), resp["messages"])
	assert.Equal(t, float64(1), resp["images"])
	assert.Equal(t, true, resp["blocked"])
	assert.Equal(t, "2026-01-01T00:30:00Z", resp["blocked_until"])
}

func TestAdminStats(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.stats.Record(ctx, stats.Event{UserID: "U1", Outcome: "accepted"}))
	require.NoError(t, ts.stats.Record(ctx, stats.Event{UserID: "U1", Outcome: "throttled"}))
	ts.guard.Check("U1", false)

	rec := ts.do(adminRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TrackedUsers int              `json:"tracked_users"`
		Decisions    map[string]int64 `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TrackedUsers)
	assert.Equal(t, map[string]int64{"accepted": 1, "throttled": 1}, resp.Decisions)
}
