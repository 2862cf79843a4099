// Package line wraps the LINE Messaging API calls the bot makes: replies,
// broadcasts and message content downloads.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jusunglee/kaitoribot/internal/metrics"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"golang.org/x/time/rate"
)

// ErrContentTooLarge is returned by FetchContent when the payload exceeds the limit.
var ErrContentTooLarge = errors.New("content too large")

// MaxTextLength is the LINE limit for a single text message, in characters.
const MaxTextLength = 5000

type QuickReply struct {
	Label string
	Text  string
}

type Client struct {
	api     *messaging_api.MessagingApiAPI
	blob    *messaging_api.MessagingApiBlobAPI
	limiter *rate.Limiter
}

// NewClient creates a client whose calls are paced to rps requests per second.
func NewClient(channelToken string, rps float64) (*Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging API client: %w", err)
	}
	blob, err := messaging_api.NewMessagingApiBlobAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging blob API client: %w", err)
	}
	return &Client{
		api:     api,
		blob:    blob,
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}, nil
}

func (c *Client) Reply(ctx context.Context, replyToken, text string, quick ...QuickReply) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   []messaging_api.MessageInterface{NewTextMessage(text, quick...)},
	})
	observe("reply", start, err)
	if err != nil {
		return fmt.Errorf("replying to message: %w", err)
	}
	return nil
}

func (c *Client) Broadcast(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	_, err := c.api.Broadcast(&messaging_api.BroadcastRequest{
		Messages: []messaging_api.MessageInterface{NewTextMessage(text)},
	}, uuid.NewString())
	observe("broadcast", start, err)
	if err != nil {
		return fmt.Errorf("broadcasting message: %w", err)
	}
	return nil
}

// FetchContent downloads the binary content of a user message, refusing
// anything larger than maxBytes.
func (c *Client) FetchContent(ctx context.Context, messageID string, maxBytes int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.blob.GetMessageContent(messageID)
	observe("content", start, err)
	if err != nil {
		return nil, fmt.Errorf("getting message content: %w", err)
	}
	defer resp.Body.Close()

	return readLimited(resp, maxBytes)
}

func readLimited(resp *http.Response, maxBytes int64) ([]byte, error) {
	if resp.ContentLength > maxBytes {
		return nil, ErrContentTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading message content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrContentTooLarge
	}
	return data, nil
}

// NewTextMessage builds a text message, cut to MaxTextLength characters, with
// optional quick reply buttons.
func NewTextMessage(text string, quick ...QuickReply) messaging_api.TextMessage {
	msg := messaging_api.TextMessage{Text: truncateRunes(text, MaxTextLength)}
	if len(quick) == 0 {
		return msg
	}

	items := make([]messaging_api.QuickReplyItem, 0, len(quick))
	for _, q := range quick {
		items = append(items, messaging_api.QuickReplyItem{
			Action: &messaging_api.MessageAction{Label: q.Label, Text: q.Text},
		})
	}
	msg.QuickReply = &messaging_api.QuickReply{Items: items}
	return msg
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func observe(endpoint string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.LINEAPICallsTotal.WithLabelValues(endpoint, result).Inc()
	metrics.LINEAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
