package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"media-relay/internal/bot"
	"media-relay/internal/media/ffmpeg"
	"media-relay/internal/platform/config"
	"media-relay/internal/platform/logger"
	"media-relay/internal/platform/metrics"
	"media-relay/internal/provider/ytdlp"
	"media-relay/internal/telegram"
	"media-relay/internal/workspace"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	token := config.GetEnv("BOT_TOKEN", "")
	webhookPath := config.GetEnv("WEBHOOK_PATH", "/webhook")
	webhookSecret := config.GetEnv("WEBHOOK_SECRET", "")
	webhookURL := config.GetEnv("WEBHOOK_URL", "")
	workDir := config.GetEnv("WORK_DIR", filepath.Join(os.TempDir(), "media-relay"))
	maxOffer := config.GetEnvInt64("MAX_OFFER_BYTES", bot.DefaultMaxOfferSize)
	transportLimit := config.GetEnvInt64("TRANSPORT_LIMIT_BYTES", bot.DefaultTransportLimit)
	captionLimit := config.GetEnvInt("CAPTION_LIMIT", bot.DefaultCaptionLimit)
	resolutions := config.GetEnvIntList("RESOLUTIONS", bot.DefaultResolutions)
	container := config.GetEnv("CONTAINER", bot.DefaultContainer)

	log := logger.New(logLevel, logFormat)

	if token == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	ws, swept, err := workspace.Open(workDir)
	if err != nil {
		log.Error("workspace unavailable", "dir", workDir, "error", err)
		os.Exit(1)
	}
	defer ws.Close()
	if swept > 0 {
		log.Info("stale artifacts removed", "dir", workDir, "count", swept)
	}

	media := ffmpeg.New(config.GetEnv("FFMPEG_PATH", ""), config.GetEnv("FFPROBE_PATH", ""), log)
	if !media.Available() {
		log.Warn("ffmpeg or ffprobe not found, remuxing and segmentation will fail")
	}
	provider := ytdlp.New(config.GetEnv("YTDLP_PATH", ""), container, log)

	client, err := telegram.New(token, "", captionLimit, log)
	if err != nil {
		log.Error("transport unavailable", "error", err)
		os.Exit(1)
	}
	if webhookURL != "" {
		if err := client.RegisterWebhook(webhookURL, webhookSecret); err != nil {
			log.Error("webhook registration failed", "url", webhookURL, "error", err)
			os.Exit(1)
		}
		log.Info("webhook registered", "url", webhookURL)
	}

	met := metrics.New()
	repo := bot.NewInMemoryRepository()
	svc := bot.NewService(bot.Deps{
		Sessions:  repo,
		Provider:  provider,
		Retriever: bot.NewRetriever(provider, media, container, log),
		Pipeline:  bot.NewPipeline(media, client, transportLimit, captionLimit, log, met),
		Transport: client,
		Workspace: ws,
		Log:       log,
		Metrics:   met,
	}, resolutions, maxOffer)
	webhook := telegram.NewWebhookHandler(svc, webhookSecret, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log, "/healthz", "/metrics"))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	r.Method(http.MethodPost, webhookPath, webhook)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"bot", client.Username(),
		"webhook_path", webhookPath,
		"work_dir", workDir,
		"max_offer_bytes", maxOffer,
		"transport_limit_bytes", transportLimit,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("waiting for conversation turns in flight")
	webhook.Wait()

	log.Info("server stopped")
}
