// Package summarizer fills in place summaries with a language model. A batch
// is processed with a fixed number of calls in flight; one place failing
// never stops the others.
package summarizer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"spotto-service/internal/logcontext"
	"spotto-service/internal/model"
)

const DefaultParallelism = 3

var (
	summarySuccessCounter = metrics.GetOrCreateCounter(`summarizer_items_total{result="success"}`)
	summaryFailureCounter = metrics.GetOrCreateCounter(`summarizer_items_total{result="failure"}`)

	summaryDurationHistogram = metrics.GetOrCreateHistogram(`summarizer_item_duration_milliseconds`)
)

var ErrEmptySummary = errors.New("model returned an empty summary")

type Store interface {
	SaveSummary(ctx context.Context, placeID uuid.UUID, summary, modelName string) error
}

type Stats struct {
	Total     int64
	Succeeded int64
	Failed    int64
}

// AllFailed reports whether a non-empty batch produced nothing.
func (s Stats) AllFailed() bool {
	return s.Total > 0 && s.Succeeded == 0
}

type Runner struct {
	client      Client
	store       Store
	modelName   string
	parallelism int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

type RunnerOption func(*Runner)

func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithRate caps calls per second; zero or less leaves calls unpaced.
func WithRate(perSecond float64) RunnerOption {
	return func(r *Runner) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func NewRunner(client Client, store Store, modelName string, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:      client,
		store:       store,
		modelName:   modelName,
		parallelism: DefaultParallelism,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run summarizes every place in places and stores the results. Item
// failures are logged and counted; Run itself does not fail.
func (r *Runner) Run(ctx context.Context, places []model.Place) Stats {
	var succeeded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for _, p := range places {
		g.Go(func() error {
			itemCtx := logcontext.AppendCtx(ctx, slog.String("placeId", p.ID.String()))
			if err := r.summarizeOne(itemCtx, p); err != nil {
				failed.Add(1)
				summaryFailureCounter.Inc()
				r.logger.WarnContext(itemCtx, "Error summarizing place", "name", p.Name, "error", err)
				return nil
			}
			succeeded.Add(1)
			summarySuccessCounter.Inc()
			return nil
		})
	}
	_ = g.Wait()

	return Stats{
		Total:     int64(len(places)),
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
	}
}

func (r *Runner) summarizeOne(ctx context.Context, p model.Place) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "wait for rate limiter")
		}
	}

	startTime := time.Now()
	summary, err := r.client.Summarize(ctx, p)
	summaryDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	if err != nil {
		return err
	}
	if summary == "" {
		return ErrEmptySummary
	}

	return r.store.SaveSummary(ctx, p.ID, summary, r.modelName)
}
