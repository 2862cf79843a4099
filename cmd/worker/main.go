package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/bot"
	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/health"
	"github.com/jusunglee/kaitoribot/internal/line"
	"github.com/jusunglee/kaitoribot/internal/logger"
	"github.com/jusunglee/kaitoribot/internal/stats"
	"github.com/jusunglee/kaitoribot/internal/storage"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/samber/lo"
)

const scheduleTrigger = "schedule"

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func mainE() error {
	_ = godotenv.Load()

	fs := ff.NewFlagSet("kaitoribot-worker")
	var (
		databaseURL  = fs.StringLong("database-url", "./kaitoribot.db", "SQLite path or PostgreSQL connection URL")
		channelToken = fs.StringLong("line-channel-token", "", "LINE channel access token")
		lineRPS      = fs.Float64Long("line-rps", 50, "Outbound LINE API calls per second")
		interval     = fs.DurationLong("interval", 168*time.Hour, "Time between scheduled broadcasts")
		itemList     = fs.StringLong("items", "", "Comma-separated list of wanted items to broadcast")
		healthPort   = fs.IntLong("health-port", 9090, "Port for /health and /metrics")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *channelToken == "" {
		return errors.New("line-channel-token is required")
	}
	items := parseItems(*itemList)
	if len(items) == 0 {
		return errors.New("items is required")
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	log := logger.New()

	repo, err := storage.Open(ctx, *databaseURL, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	lineClient, err := line.NewClient(*channelToken, *lineRPS)
	if err != nil {
		return fmt.Errorf("creating LINE client: %w", err)
	}

	b := bot.New(
		bot.NewLogger(log),
		guard.New(guard.DefaultConfig()),
		lineClient,
		appraisal.NewAppraiser(nil, true),
		repo,
		stats.NewMemoryStore(),
		bot.DefaultConfig(),
	)

	healthServer := health.New(*healthPort)
	go func() {
		log.InfoContext(ctx, "starting health server", "port", *healthPort)
		if err := healthServer.Start(); err != nil {
			log.ErrorContext(ctx, "health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig)
		cancel(errors.New("signal received"))
	}()

	wait, err := untilNext(ctx, repo, time.Now(), *interval)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "worker starting", "interval", *interval, "items", len(items), "first_run_in", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			runBroadcast(ctx, b, items, log)
			healthServer.MarkRun(time.Now())
			timer.Reset(*interval)
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		}
	}
}

func runBroadcast(ctx context.Context, b *bot.Bot, items []string, log *slog.Logger) {
	start := time.Now()
	if err := b.Broadcast(ctx, scheduleTrigger, items); err != nil {
		log.ErrorContext(ctx, "scheduled broadcast failed", "error", err)
		return
	}
	log.InfoContext(ctx, "scheduled broadcast complete", "duration", time.Since(start))
}

func parseItems(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}

type broadcastFinder interface {
	LatestBroadcast(ctx context.Context, trigger string) (db.Broadcast, error)
}

// untilNext returns how long to wait before the next scheduled broadcast,
// counting from the newest one already sent so restarts do not resend.
func untilNext(ctx context.Context, repo broadcastFinder, now time.Time, interval time.Duration) (time.Duration, error) {
	last, err := repo.LatestBroadcast(ctx, scheduleTrigger)
	if errors.Is(err, db.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding last scheduled broadcast: %w", err)
	}
	return max(0, last.CreatedAt.Add(interval).Sub(now)), nil
}
