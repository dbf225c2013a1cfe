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

	"hls-library/internal/library"
	"hls-library/internal/platform/config"
	"hls-library/internal/platform/cors"
	"hls-library/internal/platform/logger"
	"hls-library/internal/platform/metrics"
	"hls-library/internal/toolchain"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const probeTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = config.Load()
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:          "hls-library",
		Short:        "Converts audio sources to HLS and serves the cached renditions.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	cmd.Flags().StringVar(&cfg.CachePath, "cache-path", cfg.CachePath, "directory holding the ledger and session directories")
	cmd.Flags().BoolVar(&cfg.ReadOnly, "readonly", cfg.ReadOnly, "disable adding and removing tracks")
	return cmd
}

func run(cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	cfg.Validate(log)

	if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	ffmpeg := toolchain.NewFFmpeg(cfg.FFmpegPath, log)
	ytdlp := toolchain.NewYTDLP(cfg.YTDLPPath, log)
	if err := probeTools(log, ffmpeg, ytdlp); err != nil {
		return err
	}

	store := library.OpenSessionStore(library.NewFileLedger(cfg.CachePath), log)
	jobs := library.NewJobTracker(cfg.JobRetention, cfg.MaxFinishedJobs)
	met := metrics.New()

	pipeline, err := library.NewPipeline(library.PipelineConfig{
		Root:            cfg.CachePath,
		SegmentDuration: cfg.SegmentDuration,
		MaxConcurrent:   cfg.MaxConcurrentJobs,
	}, store, jobs, ytdlp, ffmpeg, log, met)
	if err != nil {
		return err
	}
	if _, err := library.SweepOrphans(pipeline.Root(), store, cfg.ReadOnly, log); err != nil {
		log.Warn("orphan sweep failed", slog.String("error", err.Error()))
	}

	artifacts := library.NewArtifactServer(store, log, met)
	h := library.NewHandler(store, jobs, pipeline, artifacts, log, met, cfg.ReadOnly)

	r := chi.NewRouter()
	r.Use(cors.Middleware(cfg.AllowedOrigins))
	r.Use(logger.RequestLogger(log, "/api/hls/"))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetSessions(store.Len())
			if err := met.UpdateCacheFree(pipeline.Root()); err != nil {
				log.Debug("disk usage unavailable", slog.String("error", err.Error()))
			}
		}).ServeHTTP(w, r)
	})
	h.Mount(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go library.RunJanitor(ctx, cfg.JanitorInterval, jobs, log)

	// play counts keep flushing until the server has drained
	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushed := make(chan struct{})
	go func() {
		artifacts.FlushPlays(flushCtx)
		close(flushed)
	}()
	defer func() {
		stopFlush()
		<-flushed
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", cfg.Port),
		slog.String("cache_path", pipeline.Root()),
		slog.Bool("readonly", cfg.ReadOnly),
		slog.Int("sessions", store.Len()),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("stopping with conversions still running")
	}

	log.Info("server stopped")
	return nil
}

// probeTools checks the collaborator binaries. Without ffmpeg nothing can be
// converted, so its absence is fatal; without yt-dlp only URL submissions fail.
func probeTools(log *slog.Logger, ffmpeg *toolchain.FFmpeg, ytdlp *toolchain.YTDLP) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	version, err := ffmpeg.Version(ctx)
	if err != nil {
		return fmt.Errorf("ffmpeg not found, install it for HLS conversion: %w", err)
	}
	log.Info("ffmpeg found", slog.String("version", version))

	version, err = ytdlp.Version(ctx)
	if err != nil {
		log.Warn("yt-dlp not found, URL downloads will not work", slog.String("error", err.Error()))
		return nil
	}
	log.Info("yt-dlp found", slog.String("version", version))
	return nil
}
