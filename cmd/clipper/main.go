package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "go.uber.org/automaxprocs"

	"github.com/heimdex/heimdex-clipper/internal/api"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/extract"
	"github.com/heimdex/heimdex-clipper/internal/jobs"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/persist"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/publish"
	"github.com/heimdex/heimdex-clipper/internal/session"
)

const usage = `usage: clipper <command> [flags]

commands:
  serve     run the annotation API and extraction runner (default)
  extract   cut clips for every record in a directory and exit
  version   print the build version
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "extract":
		err = runExtract(args)
	case "version":
		fmt.Printf("clipper %s (%s, %s)\n", config.Version, config.GitCommit, config.BuildTime)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func loadConfig() (*config.EnvConfig, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel()), nil
}

func newMedia(cfg config.Config, logger *slog.Logger, codec string) (*media.FFmpeg, error) {
	mcfg := media.DefaultConfig(logger)
	mcfg.FFmpegPath = cfg.FFmpegPath()
	mcfg.FFprobePath = cfg.FFprobePath()
	mcfg.Codec = codec
	return media.New(mcfg)
}

func runExtract(args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", cfg.AnnotationsDir(), "directory of annotation records")
	out := fs.String("out", cfg.ClipsDir(), "directory for produced clips")
	ext := fs.String("ext", cfg.Ext(), "clip container extension")
	codec := fs.String("codec", cfg.Codec(), "ffmpeg video encoder")
	workers := fs.Int("workers", cfg.Workers(), "records extracted in parallel")
	videos := fs.String("videos", cfg.VideosDir(), "fallback directory for moved source videos")
	if err := fs.Parse(args); err != nil {
		return err
	}

	*ext = strings.TrimPrefix(*ext, ".")
	if !export.ValidExt(*ext) {
		return fmt.Errorf("invalid clip extension %q", *ext)
	}
	if err := os.MkdirAll(*out, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	ffmpeg, err := newMedia(cfg, logger, *codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loaded, err := persist.NewFileStore(*in, logger).LoadAll(ctx)
	if err != nil {
		return err
	}

	ex := extract.New(ffmpeg, ffmpeg, extract.Config{
		OutputDir: *out,
		Ext:       *ext,
		Workers:   *workers,
		VideoDir:  *videos,
		Logger:    logger,
	})
	results := ex.ExtractBatch(ctx, loaded.Records)
	sum := jobs.Summarize(results, len(loaded.Failed))

	fmt.Println(sum.String())
	if ctx.Err() != nil {
		return errors.New("extraction interrupted")
	}
	return nil
}

func runServe(args []string) error {
	startTime := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	for _, dir := range []string{cfg.DataDir(), cfg.AnnotationsDir(), cfg.ClipsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("starting heimdex clipper", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Printf("  API URL:    http://127.0.0.1:%d\n", cfg.Port())
	fmt.Printf("  Auth Token: %s\n", authToken)
	fmt.Println()

	var (
		prober media.Prober
		opener media.SourceOpener
		sinks  media.SinkFactory
	)
	ffmpeg, err := newMedia(cfg, logger, cfg.Codec())
	if err != nil {
		logger.Warn("media backend unavailable, extraction disabled", "error", err)
		prober = unavailableMedia{err: err}
	} else {
		prober, opener, sinks = ffmpeg, ffmpeg, ffmpeg
	}
	doctor := media.NewCachedDoctor(prober, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("media capabilities detected",
			"ffmpeg", caps.FFmpeg.Version,
			"ffprobe", caps.FFprobe.Version,
			"can_extract", caps.CanExtract(),
		)
	}
	initCancel()

	cos := cfg.COS()
	publisher, err := publish.New(publish.Config{
		BucketURL: cos.BucketURL,
		SecretID:  cos.SecretID,
		SecretKey: cos.SecretKey,
		Prefix:    cos.Prefix,
		Logger:    logging.WithComponent(logger, "publish"),
	})
	if err != nil {
		return fmt.Errorf("failed to configure clip publisher: %w", err)
	}
	if publisher.Enabled() {
		logger.Info("clip publishing enabled", "bucket", cos.BucketURL, "prefix", cos.Prefix)
	}

	records := persist.NewFileStore(cfg.AnnotationsDir(), logger)
	saver := session.NewSaver(records, logger, 0)
	defer saver.Close()

	sess, err := openSession(cfg, records, saver, opener, logger)
	if err != nil {
		logger.Warn("annotation session disabled", "videos_dir", logging.SanitizePath(cfg.VideosDir()), "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !export.ValidExt(cfg.Ext()) {
		return fmt.Errorf("invalid clip extension %q", cfg.Ext())
	}
	svc := jobs.NewService(repo, jobs.ServiceConfig{
		Opener:     opener,
		Sinks:      sinks,
		Publisher:  publisher,
		Workers:    cfg.Workers(),
		VideoDir:   cfg.VideosDir(),
		DefaultExt: cfg.Ext(),
	}, logging.WithComponent(logger, "jobs"))
	runner := jobs.NewRunner(svc, repo, doctor, logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Session:        sess,
		Records:        records,
		Jobs:           svc,
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		PlaybackServer: playback.NewServer(cfg.ClipsDir(), logger),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	// Handlers have returned, so the session is no longer shared.
	if sess != nil {
		if err := sess.Close(); err != nil {
			logger.Error("failed to queue current annotation record", "error", err)
		}
	}
	if err := saver.Flush(shutdownCtx); err != nil {
		logger.Error("pending annotation saves were not flushed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func openSession(cfg config.Config, records persist.Adapter, saver *session.Saver, opener media.SourceOpener, logger *slog.Logger) (*session.Context, error) {
	videos, err := session.ScanVideos(cfg.VideosDir())
	if err != nil {
		return nil, err
	}

	loaded, err := records.LoadAll(context.Background())
	if err != nil {
		return nil, err
	}
	for _, f := range loaded.Failed {
		logger.Warn("skipping unreadable annotation record", "error", f)
	}

	opts := session.Options{Saver: saver, Logger: logging.WithComponent(logger, "session")}
	if cfg.SaveFrames() && opener != nil {
		opts.Snapshotter = media.NewSnapshotWriter(opener)
		opts.SnapshotDir = cfg.AnnotationsDir()
	}

	sess, err := session.New(videos, loaded.ByName(), opts)
	if err != nil {
		return nil, err
	}
	logger.Info("annotation session ready", "videos", len(videos), "records", len(loaded.Records), "current", filepath.Base(sess.Current().Path))
	return sess, nil
}

// unavailableMedia reports both tools as missing so the runner fails jobs
// instead of the server refusing to start.
type unavailableMedia struct {
	err error
}

func (u unavailableMedia) RunDoctor(ctx context.Context) (*media.Capabilities, error) {
	missing := media.ToolInfo{Error: u.err.Error()}
	return &media.Capabilities{FFmpeg: missing, FFprobe: missing, ProbedAt: time.Now()}, nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	token := uuid.NewString()
	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}
