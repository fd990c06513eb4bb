package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelbatch/internal/config"
	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/naming"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
	"github.com/dunamismax/pixelbatch/internal/queue"
	"github.com/dunamismax/pixelbatch/internal/store"
	"github.com/dunamismax/pixelbatch/internal/transform"
	"github.com/dunamismax/pixelbatch/internal/webhook"
)

// Server consumes batch items from the queue. Each task is one input of a
// batch; the batch store decides when the batch is complete.
type Server struct {
	logger  zerolog.Logger
	server  *asynq.Server
	sem     chan struct{}
	stores  map[string]pipeline.Store
	batches store.BatchStore
	webhook webhookSender
	metrics *metrics
	tracer  trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires the consumer. objects may be nil, in which case items
// addressed to the object store fail.
func NewServer(
	logger zerolog.Logger,
	cfg config.Config,
	objects pipeline.ObjectClient,
	webhookClient webhookSender,
	batches store.BatchStore,
) (*Server, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}

	stores := map[string]pipeline.Store{
		domain.StoreLocal: pipeline.LocalStore{JPEGQuality: cfg.Batch.JPEGQuality},
	}
	if objects != nil {
		stores[domain.StoreObject] = pipeline.ObjectStore{Storage: objects, JPEGQuality: cfg.Batch.JPEGQuality}
	}

	s := &Server{
		logger:  logger,
		sem:     make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		stores:  stores,
		batches: batches,
		webhook: webhookClient,
		metrics: newMetrics(),
		tracer:  otel.Tracer("pixelbatch/worker"),
	}
	s.server = asynq.NewServer(
		cfg.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Err(err).
					Msg("task failed")
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeBatchItem, s.handleBatchItem)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleBatchItem(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()

	payload, err := queue.ParseBatchItemPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	storeKind := domain.StoreKind(payload.Store)
	status := domain.ItemStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.batch_item", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("batch.id", payload.BatchID),
		attribute.Int64("item.index", int64(payload.Index)),
		attribute.String("item.source", payload.Source),
		attribute.String("item.store", storeKind),
		attribute.Int("batch.steps", len(payload.Steps)),
	)
	defer span.End()
	defer func() {
		s.metrics.itemDuration.WithLabelValues(storeKind, status).Observe(time.Since(startedAt).Seconds())
		s.metrics.itemsTotal.WithLabelValues(storeKind, status).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeItems.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeItems.Dec()
	}()

	log := s.logger.With().Str("batch_id", payload.BatchID).Uint("index", payload.Index).Str("source", payload.Source).Logger()
	log.Debug().Msg("processing item")

	out, procErr := s.process(ctx, payload, storeKind)

	result := domain.ItemResult{
		BatchID:    payload.BatchID,
		Index:      payload.Index,
		Source:     payload.Source,
		OutputPath: out.Path,
		Status:     domain.ItemStatusSucceeded,
		FinishedAt: time.Now().UTC(),
	}
	if procErr != nil {
		result.Status = domain.ItemStatusFailed
		result.Stage = string(pipeline.StageOf(procErr))
		result.Error = procErr.Error()
		span.RecordError(procErr)
		span.SetStatus(codes.Error, "item failed")
		log.Error().Err(procErr).Str("stage", result.Stage).Msg("item failed")
	} else {
		s.metrics.pixelsProcessedTotal.Add(float64(out.Width * out.Height))
		log.Info().Str("output", out.Path).Msg("item processed")
	}

	progress, err := s.batches.RecordItem(ctx, payload.BatchID, result)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return fmt.Errorf("record item: %v: %w", err, asynq.SkipRetry)
		}
		span.RecordError(err)
		return fmt.Errorf("record item: %w", err)
	}

	if progress.Done() {
		s.metrics.batchesCompleted.Inc()
		if err := s.notifyCompleted(ctx, payload, progress); err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("webhook delivery failed")
		}
	}

	if procErr != nil {
		return fmt.Errorf("item %d: %v: %w", payload.Index, procErr, asynq.SkipRetry)
	}
	status = domain.ItemStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// process rebuilds the pipeline from the payload and runs it on one input.
// A bad template is reported as a save failure and bad steps as a transform
// failure.
func (s *Server) process(ctx context.Context, payload queue.BatchItemPayload, storeKind string) (pipeline.Output, error) {
	tmpl, err := naming.Parse(payload.Template)
	if err != nil {
		return pipeline.Output{}, &pipeline.StageError{Stage: pipeline.StageSave, Err: err}
	}
	transforms, err := transform.FromSteps(payload.Steps)
	if err != nil {
		return pipeline.Output{}, &pipeline.StageError{Stage: pipeline.StageTransform, Err: err}
	}
	imgStore, ok := s.stores[storeKind]
	if !ok {
		return pipeline.Output{}, &pipeline.StageError{Stage: pipeline.StageLoad, Err: fmt.Errorf("store %q is not configured", storeKind)}
	}

	p := pipeline.New(imgStore, transforms...)
	return p.ProcessOne(ctx, pipeline.FileInput(payload.Source), tmpl, payload.Index)
}

func (s *Server) notifyCompleted(ctx context.Context, payload queue.BatchItemPayload, progress domain.Progress) error {
	if payload.WebhookURL == "" || s.webhook == nil {
		return nil
	}

	items, err := s.batches.Items(ctx, payload.BatchID)
	if err != nil {
		return fmt.Errorf("load batch items: %w", err)
	}

	body := webhook.BatchCompleted{
		BatchID:     payload.BatchID,
		Status:      domain.BatchStatusCompleted,
		Total:       progress.Total,
		Succeeded:   progress.Succeeded,
		Failed:      progress.Failed,
		Items:       items,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.webhook.Send(ctx, payload.WebhookURL, webhook.EventBatchCompleted, body); err != nil {
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}
