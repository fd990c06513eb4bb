package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/id"
	"github.com/dunamismax/pixelbatch/internal/store"
	"github.com/dunamismax/pixelbatch/internal/transform"
)

type Server struct {
	logger                zerolog.Logger
	queueClient           queueEnqueuer
	batches               store.BatchStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	presignTTL            time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueBatch(ctx context.Context, batch domain.Batch) (int, error)
	Queue() string
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Options holds the optional collaborators of the API server.
type Options struct {
	Storage      objectStorage
	RateLimiter  RateLimiter
	UserIDHeader string
	PresignTTL   time.Duration
}

func NewServer(logger zerolog.Logger, queueClient queueEnqueuer, batches store.BatchStore, opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		batches:               batches,
		storage:               opts.Storage,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.UserIDHeader,
		presignTTL:            opts.PresignTTL,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelbatch/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("POST /v1/uploads", s.handleCreateUpload)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := transform.FromSteps(req.Steps); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !s.allow(w, r, len(req.Inputs)) {
		return
	}

	storeKind := domain.StoreKind(req.Store)
	if err := s.verifyInputsExist(r.Context(), storeKind, req.Inputs); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	batch := domain.Batch{
		ID:         id.New(),
		Status:     domain.BatchStatusQueued,
		Template:   req.Template,
		Steps:      req.Steps,
		Inputs:     req.Inputs,
		Store:      storeKind,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.batches.Create(r.Context(), batch); err != nil {
		s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("create batch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create batch"})
		return
	}

	enqueued, err := s.queueClient.EnqueueBatch(r.Context(), batch)
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batch.ID).Int("enqueued", enqueued).Msg("enqueue batch failed")
		// A partly queued batch can never complete; close it so pollers stop.
		if markErr := s.batches.MarkFailed(context.WithoutCancel(r.Context()), batch.ID); markErr != nil {
			s.logger.Error().Err(markErr).Str("batch_id", batch.ID).Msg("mark batch failed")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "failed to enqueue batch",
			"batch_id": batch.ID,
			"status":   domain.BatchStatusFailed,
			"enqueued": enqueued,
		})
		return
	}
	s.metrics.itemsEnqueued.WithLabelValues(s.queueClient.Queue()).Add(float64(enqueued))
	s.metrics.batchSize.Observe(float64(len(batch.Inputs)))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":   batch.ID,
		"status":     batch.Status,
		"items":      len(batch.Inputs),
		"enqueued":   enqueued,
		"status_url": fmt.Sprintf("/v1/batches/%s", batch.ID),
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(batchID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid batch id"})
		return
	}

	batch, ok, err := s.batches.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("fetch batch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}

	items, err := s.batches.Items(r.Context(), batchID)
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("fetch batch items failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch items"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":   batch.ID,
		"status":     batch.Status,
		"template":   batch.Template,
		"store":      batch.Store,
		"progress":   domain.Tally(len(batch.Inputs), items),
		"items":      items,
		"created_at": batch.CreatedAt,
		"updated_at": batch.UpdatedAt,
	})
}

type uploadRequest struct {
	Name string `json:"name"`
}

// handleCreateUpload hands out a presigned PUT URL so clients can place
// inputs in the bucket before submitting an s3 batch.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	name := strings.Trim(strings.TrimSpace(req.Name), "/")
	if name == "" || strings.Contains(name, "..") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name must be a relative object name"})
		return
	}
	if !s.allow(w, r, 1) {
		return
	}

	objectKey := fmt.Sprintf("uploads/%s/%s", id.New(), name)
	url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("generate presigned url failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"object_key":        objectKey,
		"presigned_put_url": url,
		"expires_at":        time.Now().UTC().Add(s.presignTTL),
	})
}

func (s *Server) verifyInputsExist(ctx context.Context, storeKind string, inputs []string) error {
	for _, in := range inputs {
		switch storeKind {
		case domain.StoreLocal:
			if _, err := os.Stat(in); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("input is missing: %s", in)
				}
				return fmt.Errorf("input check failed: %w", err)
			}
		default:
			exists, err := s.storage.ObjectExists(ctx, strings.TrimLeft(in, "/"))
			if err != nil {
				return fmt.Errorf("input check failed: %w", err)
			}
			if !exists {
				return fmt.Errorf("input is missing: %s", in)
			}
		}
	}
	return nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
