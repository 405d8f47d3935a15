package summarizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"spotto-service/internal/logcontext"
	"spotto-service/internal/model"
)

// Source lists places that still need a summary.
type Source interface {
	ListWithoutSummary(ctx context.Context, limit int) ([]model.Place, error)
}

// Scheduler drains the backlog of unsummarized places batch by batch.
type Scheduler struct {
	source    Source
	runner    *Runner
	batchSize int
	logger    *slog.Logger
}

func NewScheduler(source Source, runner *Runner, batchSize int, logger *slog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{source: source, runner: runner, batchSize: batchSize, logger: logger}
}

// RunPending processes batches until the backlog is empty or a batch makes
// no progress, so places that keep failing are not retried in a loop.
func (s *Scheduler) RunPending(ctx context.Context) (Stats, error) {
	// runId correlates every log line of this pass
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	var total Stats
	for {
		places, err := s.source.ListWithoutSummary(ctx, s.batchSize)
		if err != nil {
			return total, errors.Wrap(err, "list places without summary")
		}
		if len(places) == 0 {
			s.logger.InfoContext(ctx, "No places left to summarize")
			return total, nil
		}

		s.logger.InfoContext(ctx, "Summarizing batch", "size", len(places))
		stats := s.runner.Run(ctx, places)
		total.Total += stats.Total
		total.Succeeded += stats.Succeeded
		total.Failed += stats.Failed
		s.logger.InfoContext(ctx, "Batch done", "succeeded", stats.Succeeded, "failed", stats.Failed)

		if stats.Succeeded == 0 || len(places) < s.batchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Start calls RunPending every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunPending(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "Error summarizing places", "error", err)
			}
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Context done, stopping summarizer")
			return
		}
	}
}
