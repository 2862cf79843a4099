package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jusunglee/kaitoribot/internal/bot"
	"github.com/jusunglee/kaitoribot/internal/metrics"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// maxEventsPerWebhook caps a single batch; LINE never sends more than this.
const maxEventsPerWebhook = 100

// Dispatcher consumes the events of one webhook delivery.
type Dispatcher interface {
	HandleEvents(ctx context.Context, events []bot.Event) error
}

type WebhookHandler struct {
	secret     string
	dispatcher Dispatcher
	log        *slog.Logger
	wg         sync.WaitGroup
}

func NewWebhookHandler(secret string, dispatcher Dispatcher, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, dispatcher: dispatcher, log: log}
}

// Handle verifies the signature, answers 200 at once and dispatches the
// batch in the background. Only a bad signature gets 400.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	cb, err := webhook.ParseRequest(h.secret, r)
	if errors.Is(err, webhook.ErrInvalidSignature) {
		h.log.WarnContext(r.Context(), "invalid webhook signature", "ip", r.RemoteAddr)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		// Signed but unreadable; acknowledge and drop.
		h.log.ErrorContext(r.Context(), "parsing webhook request", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	raw := cb.Events
	if len(raw) > maxEventsPerWebhook {
		h.log.WarnContext(r.Context(), "too many events in webhook batch, truncating", "event_count", len(raw))
		raw = raw[:maxEventsPerWebhook]
	}
	events := make([]bot.Event, 0, len(raw))
	for _, e := range raw {
		ev := convertEvent(e)
		metrics.WebhookEventsTotal.WithLabelValues(ev.Type, ev.MessageType).Inc()
		events = append(events, ev)
	}

	w.WriteHeader(http.StatusOK)

	ctx := context.WithoutCancel(r.Context())
	h.wg.Go(func() {
		defer func() {
			if p := recover(); p != nil {
				h.log.ErrorContext(ctx, "panic while dispatching events", "panic", p)
			}
		}()
		if err := h.dispatcher.HandleEvents(ctx, events); err != nil {
			h.log.ErrorContext(ctx, "dispatching events", "error", err)
		}
	})
}

// Shutdown waits for in-flight batches to finish.
func (h *WebhookHandler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func convertEvent(e webhook.EventInterface) bot.Event {
	msg, ok := e.(webhook.MessageEvent)
	if !ok {
		return bot.Event{Type: e.GetType()}
	}

	ev := bot.Event{
		Type:       bot.EventTypeMessage,
		UserID:     sourceUserID(msg.Source),
		ReplyToken: msg.ReplyToken,
	}
	switch m := msg.Message.(type) {
	case webhook.TextMessageContent:
		ev.MessageType = bot.MessageTypeText
		ev.MessageID = m.Id
		ev.Text = m.Text
	case webhook.ImageMessageContent:
		ev.MessageType = bot.MessageTypeImage
		ev.MessageID = m.Id
	default:
		ev.MessageType = msg.Message.GetType()
	}
	return ev
}

func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}
