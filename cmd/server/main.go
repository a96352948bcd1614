// Videodoc server - turns videos into time-aligned structured notes
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/videodoc/platform/internal/config"
	"github.com/videodoc/platform/internal/inference"
	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/note"
	"github.com/videodoc/platform/internal/server"
	"github.com/videodoc/platform/internal/task"
)

// summarizerAdapter bridges the inference client's summary shape to the
// pipeline's.
type summarizerAdapter struct {
	client *inference.Client
}

func (a summarizerAdapter) Summarize(ctx context.Context, text string) (note.Summary, error) {
	s, err := a.client.Summarize(ctx, text)
	if err != nil {
		return note.Summary{}, err
	}
	return note.Summary{Text: s.Summary, KeyPoints: s.KeyPoints}, nil
}

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		slog.Error("failed to open task database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := task.NewStore(db)
	if err != nil {
		slog.Error("failed to initialize task store", "error", err)
		os.Exit(1)
	}

	client := inference.New(cfg)
	ws := task.NewWorkspace(cfg.DataRoot)
	pipeline := task.NewPipeline(
		media.New(cfg.FFmpegPath),
		client,
		summarizerAdapter{client: client},
		client,
		ws,
		task.PipelineConfig{
			FrameFPS:            cfg.FrameFPS,
			PauseThresholdMS:    cfg.PauseThresholdMS,
			ParagraphMaxChars:   cfg.ParagraphMaxChars,
			SimilarityThreshold: cfg.SimilarityThreshold,
			PrefilterDistance:   cfg.PrefilterDistance,
			EmbedConcurrency:    cfg.EmbedConcurrency,
		},
	)
	engine := task.NewEngine(store, ws, pipeline, cfg.Workers)

	srv := server.New(engine)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("videodoc server starting", "http", cfg.HTTPAddr, "data", cfg.DataRoot)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
