package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/kaitoribot/internal/anthropic"
	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/bot"
	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/db/sqlite"
	"github.com/jusunglee/kaitoribot/internal/google"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/line"
	"github.com/jusunglee/kaitoribot/internal/llm"
	"github.com/jusunglee/kaitoribot/internal/logger"
	"github.com/jusunglee/kaitoribot/internal/stats"
)

const sampleItem = "Nintendo Switch 本体 HAC-001 グレー 箱・付属品あり"

func main() {
	if err := run(); err != nil {
		slog.Error("E2E FAILED", "error", err)
		os.Exit(1)
	}
	slog.Info("E2E PASSED")
}

// recordingMessenger stands in for the LINE API and keeps every reply.
type recordingMessenger struct {
	mu      sync.Mutex
	replies []sentReply
}

type sentReply struct {
	token string
	text  string
	quick []line.QuickReply
}

func (m *recordingMessenger) Reply(_ context.Context, replyToken, text string, quick ...line.QuickReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, sentReply{token: replyToken, text: text, quick: quick})
	return nil
}

func (m *recordingMessenger) Broadcast(context.Context, string) error {
	return errors.New("broadcast not supported in e2e")
}

func (m *recordingMessenger) FetchContent(context.Context, string, int64) ([]byte, error) {
	return nil, errors.New("content not supported in e2e")
}

func (m *recordingMessenger) byToken(token string) (sentReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.replies {
		if r.token == token {
			return r, true
		}
	}
	return sentReply{}, false
}

func run() error {
	_ = godotenv.Load()

	llmProvider := requireEnv("LLM_PROVIDER")
	llmModel := os.Getenv("LLM_MODEL")

	log := logger.New()
	ctx := context.Background()

	log.Info("Phase 1: Setting up DB, LLM and bot...")
	dbPath := fmt.Sprintf("/tmp/kaitoribot-e2e-%d.db", time.Now().UnixNano())
	defer os.Remove(dbPath)

	repo, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("creating temp SQLite: %w", err)
	}
	defer repo.Close()

	var llmClient llm.Client
	switch llmProvider {
	case "anthropic":
		llmClient = anthropic.NewClient(requireEnv("ANTHROPIC_API_KEY"), anthropic.Model(llmModel))
	case "google":
		llmClient, err = google.NewClient(ctx, requireEnv("GOOGLE_API_KEY"), google.Model(llmModel))
		if err != nil {
			return fmt.Errorf("creating Google client: %w", err)
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", llmProvider)
	}

	clock := guard.NewManualClock(time.Now())
	messenger := &recordingMessenger{}
	statsStore := stats.NewMemoryStore()
	b := bot.New(
		bot.NewLogger(log),
		guard.New(guard.DefaultConfig(), guard.WithClock(clock)),
		messenger,
		appraisal.NewAppraiser(llmClient, false),
		repo,
		statsStore,
		bot.DefaultConfig(),
	)

	log.Info("Phase 2: Requesting an estimate...", "text", sampleItem)
	runCtx, runCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer runCancel()

	err = b.HandleEvents(runCtx, []bot.Event{
		textEvent("e2e-estimate", sampleItem),
		textEvent("e2e-throttled", sampleItem),
	})
	if err != nil {
		return fmt.Errorf("handling estimate batch: %w", err)
	}

	estimate, ok := messenger.byToken("e2e-estimate")
	if !ok {
		return errors.New("no reply to the estimate request")
	}
	if !strings.Contains(estimate.text, "買取目安：") {
		return fmt.Errorf("reply is not an estimate: %q", estimate.text)
	}
	if len(estimate.quick) != len(appraisal.FollowUps) {
		return fmt.Errorf("estimate has %d quick replies, want %d", len(estimate.quick), len(appraisal.FollowUps))
	}
	log.Info("estimate reply received", "text", estimate.text)

	if _, ok := messenger.byToken("e2e-throttled"); ok {
		return errors.New("second message inside the minimum interval was answered")
	}

	log.Info("Phase 3: Following up with a staff appraisal request...")
	clock.Advance(10 * time.Second)
	if err := b.HandleEvents(runCtx, []bot.Event{textEvent("e2e-followup", appraisal.FollowUps[0].Text)}); err != nil {
		return fmt.Errorf("handling follow-up: %w", err)
	}
	if _, ok := messenger.byToken("e2e-followup"); !ok {
		return errors.New("no reply to the follow-up")
	}

	inquiries, err := repo.ListInquiries(ctx, db.ListInquiriesParams{Limit: 10})
	if err != nil {
		return fmt.Errorf("listing inquiries: %w", err)
	}
	if len(inquiries) != 1 {
		return fmt.Errorf("stored %d inquiries, want 1", len(inquiries))
	}

	totals, err := statsStore.Totals(ctx)
	if err != nil {
		return fmt.Errorf("reading guard stats: %w", err)
	}

	log.Info("all verifications passed",
		"inquiry_kind", inquiries[0].Kind,
		"guard_totals", totals,
	)
	return nil
}

func textEvent(replyToken, text string) bot.Event {
	return bot.Event{
		Type:        bot.EventTypeMessage,
		UserID:      "Ue2e",
		ReplyToken:  replyToken,
		MessageType: bot.MessageTypeText,
		MessageID:   replyToken,
		Text:        text,
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		slog.Error("required environment variable not set", "key", key)
		os.Exit(1)
	}
	return val
}
