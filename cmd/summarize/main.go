// Command summarize fills in missing place summaries with Gemini. By default it
// drains the backlog once and exits non-zero when every attempt failed; with
// -watch it keeps polling.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"spotto-service/internal/config"
	"spotto-service/internal/db"
	"spotto-service/internal/logging"
	"spotto-service/internal/metrics"
	"spotto-service/internal/places"
	"spotto-service/internal/summarizer"
)

func main() {
	watch := flag.Duration("watch", 0, "poll for new places at this interval instead of exiting")
	flag.Parse()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN() == "" || cfg.Summarizer.APIKey == "" {
		log.Fatal("database.url and summarizer.api-key are required")
	}

	logger, closeLogger := logging.GetLogger(cfg.Logs)
	defer closeLogger()

	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := db.GetPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	gemini, err := summarizer.NewGemini(ctx, cfg.Summarizer.APIKey, cfg.Summarizer.Model)
	if err != nil {
		log.Fatal(err)
	}

	repo := places.NewRepository(dbpool, cfg.Database.QueryTimeout())
	runner := summarizer.NewRunner(gemini, repo, gemini.Model(), logger,
		summarizer.WithParallelism(cfg.Summarizer.Parallelism),
		summarizer.WithRate(cfg.Summarizer.RequestsPerSecond),
	)
	scheduler := summarizer.NewScheduler(repo, runner, cfg.Summarizer.BatchSize, logger)

	if *watch > 0 {
		logger.Info("Watching for places without summary", "interval", watch.String())
		scheduler.Start(ctx, *watch)
		return
	}

	stats, err := scheduler.RunPending(ctx)
	if err != nil {
		logger.Error("Summarizer run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Summarizer run finished", "total", stats.Total, "succeeded", stats.Succeeded, "failed", stats.Failed)
	if stats.AllFailed() {
		os.Exit(1)
	}
}
