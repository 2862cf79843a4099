package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/kaitoribot/internal/anthropic"
	"github.com/jusunglee/kaitoribot/internal/appraisal"
	"github.com/jusunglee/kaitoribot/internal/bot"
	"github.com/jusunglee/kaitoribot/internal/envsetup"
	"github.com/jusunglee/kaitoribot/internal/google"
	"github.com/jusunglee/kaitoribot/internal/guard"
	"github.com/jusunglee/kaitoribot/internal/line"
	"github.com/jusunglee/kaitoribot/internal/llm"
	"github.com/jusunglee/kaitoribot/internal/logger"
	"github.com/jusunglee/kaitoribot/internal/stats"
	"github.com/jusunglee/kaitoribot/internal/storage"
	"github.com/jusunglee/kaitoribot/internal/web"
	"github.com/mattn/go-isatty"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("exiting without error")
}

func mainE() error {
	if envsetup.NeedsSetup() && isatty.IsTerminal(os.Stdin.Fd()) {
		saved, err := envsetup.Run()
		if err != nil {
			return fmt.Errorf("running env setup: %w", err)
		}
		if !saved {
			return errors.New("env setup cancelled")
		}
	}
	_ = godotenv.Load()

	fs := ff.NewFlagSet("kaitoribot")
	defaults := guard.DefaultConfig()

	var (
		port             = fs.Int64Long("port", 8080, "HTTP server port")
		databaseURL      = fs.StringLong("database-url", "./kaitoribot.db", "SQLite path or PostgreSQL connection URL")
		channelSecret    = fs.StringLong("line-channel-secret", "", "LINE channel secret for webhook signatures")
		channelToken     = fs.StringLong("line-channel-token", "", "LINE channel access token")
		lineRPS          = fs.Float64Long("line-rps", 50, "Outbound LINE API calls per second")
		llmProvider      = fs.StringEnumLong("llm-provider", "LLM provider for appraisals", "anthropic", "google")
		llmModel         = fs.StringLong("llm-model", "", "LLM model name")
		anthropicAPIKey  = fs.StringLong("anthropic-api-key", "", "Anthropic API key")
		googleAPIKey     = fs.StringLong("google-api-key", "", "Google API key")
		disableAI        = fs.BoolLong("disable-ai", "Reply with fixed guidance instead of calling the LLM")
		adminKey         = fs.StringLong("admin-key", "", "Key required in X-Admin-Key for /admin endpoints")
		redisURL         = fs.StringLong("redis-url", "", "Redis URL for guard decision stats (optional)")
		minInterval      = fs.DurationLong("min-interval", defaults.MinInterval, "Minimum time between accepted messages per user")
		maxImages        = fs.IntLong("max-images-per-minute", defaults.MaxImagesPerMinute, "Images per user per minute before blocking")
		maxMessages      = fs.IntLong("max-messages-per-minute", defaults.MaxMessagesPerMinute, "Messages per user per minute before blocking")
		blockDuration    = fs.DurationLong("block-duration", defaults.BlockDuration, "How long an abusive user stays blocked")
		maxImageBytes    = fs.Int64Long("max-image-bytes", bot.DefaultConfig().MaxImageBytes, "Largest image accepted for appraisal")
		extendBlocks     = fs.BoolLong("extend-blocks", "Never shorten an active block when blocking again")
		shutdownDeadline = fs.DurationLong("shutdown-timeout", 10*time.Second, "Time allowed for in-flight webhooks on shutdown")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *channelSecret == "" {
		return errors.New("line-channel-secret is required")
	}
	if *channelToken == "" {
		return errors.New("line-channel-token is required")
	}

	log := logger.New()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	var llmClient llm.Client
	if !*disableAI {
		var err error
		llmClient, err = newLLMClient(ctx, *llmProvider, *llmModel, *anthropicAPIKey, *googleAPIKey)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "LLM client initialized", "provider", *llmProvider, "model", *llmModel)
	} else {
		log.WarnContext(ctx, "AI appraisal disabled, replying with fixed guidance")
	}

	lineClient, err := line.NewClient(*channelToken, *lineRPS)
	if err != nil {
		return fmt.Errorf("creating LINE client: %w", err)
	}

	repo, err := storage.Open(ctx, *databaseURL, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	var statsStore stats.Store = stats.NewMemoryStore()
	if *redisURL != "" {
		redisStore, err := stats.NewRedisStoreFromURL(ctx, *redisURL)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer redisStore.Close()
		statsStore = redisStore
		log.InfoContext(ctx, "recording guard stats in Redis")
	}

	g := guard.New(guard.Config{
		MinInterval:          *minInterval,
		MaxImagesPerMinute:   *maxImages,
		MaxMessagesPerMinute: *maxMessages,
		BlockDuration:        *blockDuration,
		Window:               defaults.Window,
		ExtendOnly:           *extendBlocks,
	})

	b := bot.New(
		bot.NewLogger(log),
		g,
		lineClient,
		appraisal.NewAppraiser(llmClient, *disableAI),
		repo,
		statsStore,
		bot.Config{MaxImageBytes: *maxImageBytes},
	)

	router := web.NewRouter(repo, log, b, b, g, statsStore, web.Config{
		ChannelSecret: *channelSecret,
		AdminKey:      *adminKey,
	})
	if *adminKey == "" {
		log.WarnContext(ctx, "admin-key is empty, /admin endpoints will reject every request")
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := router.RateLimiter().Cleanup(); n > 0 {
					log.DebugContext(ctx, "pruned idle rate limiter entries", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.InfoContext(ctx, "received signal, shutting down gracefully", "signal", sig)
		cancel(errors.New("signal received"))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownDeadline)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(ctx, "server shutdown error", "error", err)
		}
	}()

	log.InfoContext(ctx, "starting webhook server", "port", *port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	// Let dispatched webhook batches finish their replies.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), *shutdownDeadline)
	defer drainCancel()
	if err := router.Webhook().Shutdown(drainCtx); err != nil {
		log.Error("webhook drain error", "error", err)
	}

	return nil
}

func newLLMClient(ctx context.Context, provider, model, anthropicKey, googleKey string) (llm.Client, error) {
	switch provider {
	case "anthropic":
		if anthropicKey == "" {
			return nil, errors.New("anthropic-api-key is required when using anthropic provider")
		}
		return anthropic.NewClient(anthropicKey, anthropic.Model(model)), nil
	case "google":
		if googleKey == "" {
			return nil, errors.New("google-api-key is required when using google provider")
		}
		client, err := google.NewClient(ctx, googleKey, google.Model(model))
		if err != nil {
			return nil, fmt.Errorf("creating Google client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
