package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"emovoice/internal/api"
	"emovoice/internal/db"
	"emovoice/internal/jobs"
	"emovoice/internal/tts"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP pipeline server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPipeline(ctx, cfg, withSinks, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if p.ttsDir != "" {
		go tts.RunCleanup(ctx, p.ttsDir, cfg.TTS.MaxAge, cfg.TTS.CleanupInterval, logger)
	}
	scheduler := jobs.NewScheduler(time.Minute, logger)
	if p.store != nil && cfg.DB.Retention > 0 {
		prune := pruneRunsJob(p.store, cfg.DB.Retention, logger)
		if err := scheduler.Add("prune-runs", cfg.DB.PruneSchedule, prune); err != nil {
			return err
		}
		scheduler.RunNow("prune-runs", prune)
	}
	scheduler.Start()
	defer scheduler.Stop()

	audioDir := p.ttsDir
	if audioDir == "" {
		audioDir = cfg.AudioDir
	}
	apiCfg := api.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadDir:      cfg.UploadDir,
		AudioDir:       audioDir,
		ProcessTimeout: cfg.ProcessTimeout,
	}
	if p.metrics != nil {
		apiCfg.Metrics = p.metrics
	}
	var store api.RunStore
	if p.store != nil {
		store = p.store
	}
	var devices api.DeviceLister
	if p.publisher != nil {
		devices = p.publisher
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(apiCfg, p.service, p.selector, store, devices, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("emovoice server started",
			"addr", cfg.HTTPAddr,
			"store", p.store != nil,
			"mqtt", p.publisher != nil,
			"tts", p.ttsDir != "",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}

// pruneRunsJob deletes stored runs older than retention.
func pruneRunsJob(store *db.Store, retention time.Duration, logger *slog.Logger) jobs.Job {
	return func(ctx context.Context) error {
		n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-retention).UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("pruned old runs", "count", n, "retention", retention)
		}
		return nil
	}
}
