package bot

import (
	"context"
	"log/slog"

	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/line"
	"github.com/jusunglee/kaitoribot/internal/stats"
)

// Logger defines the logging interface used by Bot
type Logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Messenger defines the messaging platform calls used by Bot
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string, quick ...line.QuickReply) error
	Broadcast(ctx context.Context, text string) error
	FetchContent(ctx context.Context, messageID string, maxBytes int64) ([]byte, error)
}

// Appraiser produces a buy-price estimate from a description and/or photo
type Appraiser interface {
	Assess(ctx context.Context, text string, image []byte) (appraisal.Estimate, error)
}

// Repository is the subset of db.Repository the bot writes to
type Repository interface {
	CreateAssessment(ctx context.Context, arg db.CreateAssessmentParams) (db.Assessment, error)
	CreateInquiry(ctx context.Context, arg db.CreateInquiryParams) (db.Inquiry, error)
	CreateBroadcast(ctx context.Context, arg db.CreateBroadcastParams) (db.Broadcast, error)
}

// StatsRecorder receives every guard decision
type StatsRecorder interface {
	Record(ctx context.Context, ev stats.Event) error
}

// slogAdapter wraps *slog.Logger to return our Logger interface from With()
type slogAdapter struct {
	*slog.Logger
}

func (l *slogAdapter) With(args ...any) Logger {
	return &slogAdapter{Logger: l.Logger.With(args...)}
}

// NewLogger wraps a *slog.Logger to implement the Logger interface
func NewLogger(log *slog.Logger) Logger {
	return &slogAdapter{Logger: log}
}
