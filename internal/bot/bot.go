package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/line"
	"github.com/jusunglee/kaitoribot/internal/metrics"
	"github.com/jusunglee/kaitoribot/internal/stats"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	EventTypeMessage = "message"

	MessageTypeText  = "text"
	MessageTypeImage = "image"

	// UnknownUser is the guard key for events that carry no user ID.
	UnknownUser = "unknown"
)

// Event is an inbound platform event reduced to what the dispatcher needs.
type Event struct {
	Type        string
	UserID      string
	ReplyToken  string
	MessageType string
	MessageID   string
	Text        string
}

type Config struct {
	MaxImageBytes int64
	ReplyTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxImageBytes: 2 * 1024 * 1024,
		ReplyTimeout:  10 * time.Second,
	}
}

type Bot struct {
	log       Logger
	guard     *guard.Guard
	messenger Messenger
	appraiser Appraiser
	repo      Repository
	stats     StatsRecorder
	config    Config
}

func New(
	log Logger,
	g *guard.Guard,
	messenger Messenger,
	appraiser Appraiser,
	repo Repository,
	statsRecorder StatsRecorder,
	config Config,
) *Bot {
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = DefaultConfig().ReplyTimeout
	}
	return &Bot{
		log:       log,
		guard:     g,
		messenger: messenger,
		appraiser: appraiser,
		repo:      repo,
		stats:     statsRecorder,
		config:    config,
	}
}

// HandleEvents dispatches a webhook batch. Events of one user are handled in
// order; different users run concurrently.
func (b *Bot) HandleEvents(ctx context.Context, events []Event) error {
	messages := lo.Filter(events, func(ev Event, _ int) bool {
		return ev.Type == EventTypeMessage
	})
	byUser := lo.GroupBy(messages, func(ev Event) string {
		return userKey(ev.UserID)
	})

	var g errgroup.Group
	for _, userEvents := range byUser {
		g.Go(func() error {
			for _, ev := range userEvents {
				b.HandleEvent(ctx, ev)
			}
			return nil
		})
	}
	err := g.Wait()
	metrics.GuardTrackedUsers.Set(float64(b.guard.Users()))
	return err
}

// HandleEvent runs one message event through the abuse guard and, if it is
// accepted, answers it.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) {
	userID := userKey(ev.UserID)
	log := b.log.With("user_id", userID, "message_type", ev.MessageType)

	decision := b.guard.Check(userID, ev.MessageType == MessageTypeImage)
	b.recordDecision(ctx, userID, decision)

	switch decision.Outcome {
	case guard.Blocked, guard.Throttled:
		return
	case guard.Warned:
		log.WarnContext(ctx, "user exceeded limits", "warning", decision.Warning.String())
		b.reply(ctx, log, ev.ReplyToken, warningText(decision.Warning))
		return
	}

	switch ev.MessageType {
	case MessageTypeText:
		b.handleText(ctx, log, userID, ev)
	case MessageTypeImage:
		b.handleImage(ctx, log, userID, ev)
	default:
		b.reply(ctx, log, ev.ReplyToken, replyUnsupported)
	}
}

func (b *Bot) handleText(ctx context.Context, log Logger, userID string, ev Event) {
	text := strings.TrimSpace(ev.Text)

	if entry, ok := menu[text]; ok {
		if entry.inquiry != "" {
			b.recordInquiry(ctx, log, userID, entry.inquiry, text)
		}
		b.reply(ctx, log, ev.ReplyToken, entry.reply)
		return
	}

	est, err := b.appraiser.Assess(ctx, text, nil)
	b.answerEstimate(ctx, log, userID, ev.ReplyToken, appraisal.SourceText, text, est, err)
}

func (b *Bot) handleImage(ctx context.Context, log Logger, userID string, ev Event) {
	data, err := b.messenger.FetchContent(ctx, ev.MessageID, b.config.MaxImageBytes)
	if errors.Is(err, line.ErrContentTooLarge) {
		b.reply(ctx, log, ev.ReplyToken, replyImageTooLarge)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "fetching image", "error", err, "message_id", ev.MessageID)
		b.reply(ctx, log, ev.ReplyToken, replyImageParseFailed)
		return
	}

	est, err := b.appraiser.Assess(ctx, "", data)
	b.answerEstimate(ctx, log, userID, ev.ReplyToken, appraisal.SourceImage, "", est, err)
}

func (b *Bot) answerEstimate(ctx context.Context, log Logger, userID, replyToken string, source appraisal.Source, input string, est appraisal.Estimate, err error) {
	if errors.Is(err, appraisal.ErrDisabled) || errors.Is(err, appraisal.ErrQuota) {
		b.reply(ctx, log, replyToken, fallbackText(source))
		return
	}
	if err != nil {
		if pe, ok := errors.AsType[*appraisal.ParseError](err); ok {
			log.WarnContext(ctx, "assess error", "error", err, "raw", pe.Raw)
		} else {
			log.WarnContext(ctx, "assess error", "error", err)
		}
		b.reply(ctx, log, replyToken, parseFailedText(source))
		return
	}

	_, dbErr := b.repo.CreateAssessment(ctx, db.CreateAssessmentParams{
		UserID:       userID,
		Source:       string(source),
		Input:        input,
		Category:     est.Category,
		Brand:        est.Brand,
		Model:        est.Model,
		EstimateLow:  est.EstimateLow,
		EstimateHigh: est.EstimateHigh,
	})
	if dbErr != nil {
		log.ErrorContext(ctx, "storing assessment", "error", dbErr)
	}

	quick := lo.Map(appraisal.FollowUps, func(q appraisal.QuickReply, _ int) line.QuickReply {
		return line.QuickReply{Label: q.Label, Text: q.Text}
	})
	b.reply(ctx, log, replyToken, appraisal.FormatEstimate(source, est), quick...)
}

// Broadcast sends the weekly item list to every friend of the account and
// records it. trigger names who asked for it, e.g. "admin" or "schedule".
func (b *Bot) Broadcast(ctx context.Context, trigger string, items []string) error {
	body := FormatBroadcast(items)
	if err := b.messenger.Broadcast(ctx, body); err != nil {
		metrics.BroadcastsTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("broadcasting items: %w", err)
	}
	metrics.BroadcastsTotal.WithLabelValues(trigger, "success").Inc()

	if _, err := b.repo.CreateBroadcast(ctx, db.CreateBroadcastParams{Trigger: trigger, Body: body}); err != nil {
		b.log.ErrorContext(ctx, "storing broadcast", "error", err)
	}
	b.log.InfoContext(ctx, "broadcast sent", "trigger", trigger, "items", len(items))
	return nil
}

func (b *Bot) recordInquiry(ctx context.Context, log Logger, userID, kind, text string) {
	_, err := b.repo.CreateInquiry(ctx, db.CreateInquiryParams{UserID: userID, Kind: kind, Message: text})
	if err != nil {
		log.ErrorContext(ctx, "storing inquiry", "error", err, "kind", kind)
		return
	}
	log.InfoContext(ctx, "inquiry recorded", "kind", kind)
}

func (b *Bot) recordDecision(ctx context.Context, userID string, d guard.Decision) {
	metrics.GuardDecisionsTotal.WithLabelValues(d.Outcome.String(), d.Warning.String()).Inc()
	err := b.stats.Record(ctx, stats.Event{UserID: userID, Outcome: d.Outcome.String(), At: b.guard.Now()})
	if err != nil {
		b.log.WarnContext(ctx, "recording guard stats", "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, log Logger, replyToken, text string, quick ...line.QuickReply) {
	ctx, cancel := context.WithTimeout(ctx, b.config.ReplyTimeout)
	defer cancel()

	if err := b.messenger.Reply(ctx, replyToken, text, quick...); err != nil {
		log.ErrorContext(ctx, "reply failed", "error", err, "reply_token", replyToken)
	}
}

func userKey(userID string) string {
	if userID == "" {
		return UnknownUser
	}
	return userID
}
