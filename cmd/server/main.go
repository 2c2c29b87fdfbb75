package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/codebuildervaibhav/interview-render/internal/cleanup"
	"github.com/codebuildervaibhav/interview-render/internal/config"
	"github.com/codebuildervaibhav/interview-render/internal/download"
	"github.com/codebuildervaibhav/interview-render/internal/handlers"
	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/media"
	"github.com/codebuildervaibhav/interview-render/internal/pipeline"
	"github.com/codebuildervaibhav/interview-render/internal/queue"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "interview-render: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("INTERVIEW_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuffer := logging.NewLogBuffer(1000)
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Buffer: logBuffer,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if err := cleanup.EnsureWorkDir(cfg.Storage.TempDir); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	lock, err := storage.LockWorkDir(cfg.Storage.TempDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	log.Info("initializing components", slog.String("config", configPath))

	output, err := storage.NewLocalStorage(cfg.Storage.OutputDir, log)
	if err != nil {
		return err
	}

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	encoder := media.NewFFmpeg(cfg.Media.FFmpeg, cfg.Media.FFprobe, media.Assets{
		TemplateImage: cfg.Media.TemplateImage,
		MaskImage:     cfg.Media.MaskImage,
		FontFile:      cfg.Media.FontFile,
		TitleFontFile: cfg.Media.TitleFontFile,
	}, log)
	if err := encoder.CheckAssets(); err != nil {
		log.Warn("media assets incomplete, title renders will fail", slog.String("error", err.Error()))
	}

	renderer, err := pipeline.New(pipeline.Config{
		WorkDir:          cfg.Storage.TempDir,
		InterviewerLabel: cfg.Media.InterviewerLabel,
		PreviewMode:      cfg.Media.PreviewMode,
		Timeouts: pipeline.Timeouts{
			Download:  cfg.Timeouts.Download.Std(),
			Title:     cfg.Timeouts.Title.Std(),
			Normalize: cfg.Timeouts.Normalize.Std(),
			Frame:     cfg.Timeouts.Frame.Std(),
			Segment:   cfg.Timeouts.Segment.Std(),
			Concat:    cfg.Timeouts.Concat.Std(),
		},
	}, pipeline.Deps{
		Fetcher:    download.New(download.WithLogger(log)),
		Encoder:    encoder,
		Prober:     encoder,
		Output:     output,
		Ledger:     db,
		Publishers: publishers(cfg, log),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	scheduler := queue.NewScheduler(queue.NewStore(nil), renderer, queue.Options{
		MaxConcurrent:    cfg.Scheduler.MaxConcurrentJobs,
		WatchdogInterval: cfg.Scheduler.WatchdogInterval.Std(),
		JobBudget:        cfg.Scheduler.JobBudget.Std(),
		MaxInputs:        cfg.Limits.MaxInputs,
		Logger:           log,
	})
	scheduler.Start()

	sweeper := cleanup.NewScheduler(cfg.Storage.TempDir, scheduler, cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours, log)
	sweeper.Start()
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxBodyKB * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: io.MultiWriter(os.Stdout, logBuffer)}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Register(app, handlers.Deps{
		Jobs:    scheduler,
		Outputs: output,
		Renders: db,
		Sweeper: sweeper,
		Logs:    logBuffer,
		Logger:  log,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("addr", cfg.Address()),
			slog.Int("max_concurrent_jobs", cfg.Scheduler.MaxConcurrentJobs),
			slog.String("preview_mode", cfg.Media.PreviewMode))
		serveErr <- app.Listen(cfg.Address())
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigint:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var errs []error
	if err := app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// publishers builds the optional remote destinations. A destination that
// fails to initialize is logged and skipped so renders still land locally.
func publishers(cfg *config.Config, log *slog.Logger) []storage.Publisher {
	var out []storage.Publisher

	if cfg.DriveEnabled() {
		// the token source keeps this context for refreshes, so it must outlive startup
		drive, err := storage.NewDriveClient(context.Background(), cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
		if err != nil {
			log.Warn("google drive not available, saving locally only", slog.String("error", err.Error()))
		} else {
			out = append(out, drive)
			log.Info("google drive publishing enabled", slog.String("folder", cfg.GoogleDrive.FolderName))
		}
	}

	if cfg.S3Enabled() {
		s3, err := storage.NewS3Publisher(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Secure)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = s3.Check(ctx)
			cancel()
		}
		if err != nil {
			log.Warn("s3 not available, saving locally only", slog.String("error", err.Error()))
		} else {
			out = append(out, s3)
			log.Info("s3 publishing enabled", slog.String("bucket", cfg.S3.Bucket))
		}
	}
	return out
}
