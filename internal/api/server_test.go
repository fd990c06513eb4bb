package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/ratelimit"
	"github.com/dunamismax/pixelbatch/internal/store"
)

func TestCreateBatchStoresAndEnqueues(t *testing.T) {
	input := writeInput(t)
	q := &fakeQueue{}
	batches := store.NewMemoryBatchStore()
	srv := NewServer(zerolog.Nop(), q, batches, Options{})

	rec := do(t, srv, http.MethodPost, "/v1/batches", map[string]any{
		"template": "out/%f_%2.%x",
		"steps":    []map[string]any{{"action": "grayscale"}},
		"inputs":   []string{input, input},
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		BatchID  string `json:"batch_id"`
		Items    int    `json:"items"`
		Enqueued int    `json:"enqueued"`
	}
	decode(t, rec, &resp)
	if resp.Items != 2 || resp.Enqueued != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(q.batches) != 1 || q.batches[0].ID != resp.BatchID {
		t.Fatalf("expected the batch to be enqueued, got %+v", q.batches)
	}

	batch, ok, err := batches.Get(context.Background(), resp.BatchID)
	if err != nil || !ok {
		t.Fatalf("batch not stored: ok=%v err=%v", ok, err)
	}
	if batch.Status != domain.BatchStatusQueued || batch.Store != domain.StoreLocal {
		t.Fatalf("unexpected stored batch %+v", batch)
	}
}

func TestCreateBatchRejectsInvalidRequests(t *testing.T) {
	input := writeInput(t)
	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"bad template", map[string]any{"template": "out/%q", "steps": []map[string]any{{"action": "grayscale"}}, "inputs": []string{input}}, http.StatusBadRequest},
		{"unknown action", map[string]any{"template": "%f", "steps": []map[string]any{{"action": "explode"}}, "inputs": []string{input}}, http.StatusBadRequest},
		{"no inputs", map[string]any{"template": "%f", "steps": []map[string]any{{"action": "grayscale"}}, "inputs": []string{}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"template": "%f", "nope": 1}, http.StatusBadRequest},
		{"missing input", map[string]any{"template": "%f.png", "steps": []map[string]any{{"action": "grayscale"}}, "inputs": []string{filepath.Join(t.TempDir(), "gone.png")}}, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{}
			srv := NewServer(zerolog.Nop(), q, store.NewMemoryBatchStore(), Options{})
			rec := do(t, srv, http.MethodPost, "/v1/batches", tc.body, nil)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tc.code, rec.Body.String())
			}
			if len(q.batches) != 0 {
				t.Fatal("rejected batch must not be enqueued")
			}
		})
	}
}

func TestCreateBatchChecksObjectInputs(t *testing.T) {
	objects := &fakeObjectStorage{existing: map[string]bool{"scans/a.png": true}}
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{Storage: objects})

	body := map[string]any{
		"template": "out/%f.png",
		"steps":    []map[string]any{{"action": "grayscale"}},
		"store":    "s3",
		"inputs":   []string{"/scans/a.png"},
	}
	if rec := do(t, srv, http.MethodPost, "/v1/batches", body, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	body["inputs"] = []string{"scans/b.png"}
	if rec := do(t, srv, http.MethodPost, "/v1/batches", body, nil); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want conflict", rec.Code)
	}
}

func TestCreateBatchEnqueueFailureClosesBatch(t *testing.T) {
	batches := store.NewMemoryBatchStore()
	srv := NewServer(zerolog.Nop(), &fakeQueue{err: errors.New("redis down")}, batches, Options{})
	rec := do(t, srv, http.MethodPost, "/v1/batches", map[string]any{
		"template": "%f.png",
		"steps":    []map[string]any{{"action": "grayscale"}},
		"inputs":   []string{writeInput(t)},
	}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		BatchID string `json:"batch_id"`
		Status  string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.BatchID == "" || resp.Status != domain.BatchStatusFailed {
		t.Fatalf("unexpected response %+v", resp)
	}

	batch, ok, err := batches.Get(context.Background(), resp.BatchID)
	if err != nil || !ok {
		t.Fatalf("batch not stored: ok=%v err=%v", ok, err)
	}
	if batch.Status != domain.BatchStatusFailed {
		t.Fatalf("stored status = %q, want failed", batch.Status)
	}
}

func TestGetBatchReportsProgress(t *testing.T) {
	batches := store.NewMemoryBatchStore()
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, batches, Options{})
	ctx := context.Background()

	batch := domain.Batch{
		ID:       "4f1c8a0e-3b8d-4c2e-9a55-6f1d2b7e9c10",
		Status:   domain.BatchStatusQueued,
		Template: "%f.png",
		Inputs:   []string{"a.png", "b.png", "c.png"},
		Store:    domain.StoreLocal,
	}
	if err := batches.Create(ctx, batch); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, item := range []domain.ItemResult{
		{Index: 1, Source: "a.png", Status: domain.ItemStatusSucceeded},
		{Index: 2, Source: "b.png", Status: domain.ItemStatusFailed, Stage: "load", Error: "missing"},
	} {
		if _, err := batches.RecordItem(ctx, batch.ID, item); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rec := do(t, srv, http.MethodGet, "/v1/batches/"+batch.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status   string              `json:"status"`
		Progress domain.Progress     `json:"progress"`
		Items    []domain.ItemResult `json:"items"`
	}
	decode(t, rec, &resp)
	if resp.Progress != (domain.Progress{Total: 3, Succeeded: 1, Failed: 1}) {
		t.Fatalf("unexpected progress %+v", resp.Progress)
	}
	if resp.Status != domain.BatchStatusRunning || len(resp.Items) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestGetBatchErrors(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{})

	if rec := do(t, srv, http.MethodGet, "/v1/batches/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/batches/4f1c8a0e-3b8d-4c2e-9a55-6f1d2b7e9c10", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}
}

func TestRateLimitChargesPerInput(t *testing.T) {
	input := writeInput(t)
	limiter := &fakeLimiter{remaining: 3}
	q := &fakeQueue{}
	srv := NewServer(zerolog.Nop(), q, store.NewMemoryBatchStore(), Options{RateLimiter: limiter})

	body := map[string]any{
		"template": "%f.png",
		"steps":    []map[string]any{{"action": "grayscale"}},
		"inputs":   []string{input, input},
	}
	headers := map[string]string{"X-User-ID": "alice"}

	if rec := do(t, srv, http.MethodPost, "/v1/batches", body, headers); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do(t, srv, http.MethodPost, "/v1/batches", body, headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if limiter.lastCost != 2 || limiter.lastSubject != "alice:/v1/batches" {
		t.Fatalf("unexpected charge cost=%d subject=%q", limiter.lastCost, limiter.lastSubject)
	}
	if len(q.batches) != 1 {
		t.Fatalf("only the first batch should be enqueued, got %d", len(q.batches))
	}
}

func TestRateLimitOversizedBatch(t *testing.T) {
	limiter := &fakeLimiter{remaining: 10, tooLarge: true}
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{RateLimiter: limiter})
	rec := do(t, srv, http.MethodPost, "/v1/batches", map[string]any{
		"template": "%f.png",
		"steps":    []map[string]any{{"action": "grayscale"}},
		"inputs":   []string{writeInput(t)},
	}, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateUpload(t *testing.T) {
	objects := &fakeObjectStorage{url: "http://minio.local/put"}
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{Storage: objects})

	rec := do(t, srv, http.MethodPost, "/v1/uploads", map[string]any{"name": "scan.png"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ObjectKey string `json:"object_key"`
		URL       string `json:"presigned_put_url"`
	}
	decode(t, rec, &resp)
	if !strings.HasPrefix(resp.ObjectKey, "uploads/") || !strings.HasSuffix(resp.ObjectKey, "/scan.png") {
		t.Fatalf("unexpected object key %q", resp.ObjectKey)
	}
	if resp.URL != objects.url {
		t.Fatalf("unexpected url %q", resp.URL)
	}

	if rec := do(t, srv, http.MethodPost, "/v1/uploads", map[string]any{"name": "../etc/passwd"}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal status = %d", rec.Code)
	}
}

func TestUploadWithoutStorage(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{})
	if rec := do(t, srv, http.MethodPost, "/v1/uploads", map[string]any{"name": "a.png"}, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeQueue{}, store.NewMemoryBatchStore(), Options{})

	if rec := do(t, srv, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pixelbatch_api_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/batches":       "/v1/batches",
		"/v1/batches/abc":   "/v1/batches/{id}",
		"/v1/uploads":       "/v1/uploads",
		"/healthz":          "/healthz",
		"/random/long/path": "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

type fakeQueue struct {
	batches []domain.Batch
	err     error
}

func (q *fakeQueue) EnqueueBatch(_ context.Context, batch domain.Batch) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	q.batches = append(q.batches, batch)
	return len(batch.Inputs), nil
}

func (q *fakeQueue) Queue() string { return "default" }

type fakeObjectStorage struct {
	existing map[string]bool
	url      string
}

func (f *fakeObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return f.url, nil
}

func (f *fakeObjectStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	return f.existing[key], nil
}

type fakeLimiter struct {
	remaining   int64
	tooLarge    bool
	lastCost    int
	lastSubject string
}

func (l *fakeLimiter) AllowN(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	l.lastCost = cost
	l.lastSubject = subject
	if l.tooLarge {
		return ratelimit.Decision{}, ratelimit.ErrCostExceedsCapacity
	}
	if int64(cost) > l.remaining {
		return ratelimit.Decision{Allowed: false, Remaining: l.remaining, RetryAfter: 2 * time.Second}, nil
	}
	l.remaining -= int64(cost)
	return ratelimit.Decision{Allowed: true, Remaining: l.remaining}, nil
}

func do(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestStatusLabel(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 202: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusLabel(status); got != want {
			t.Fatalf("statusLabel(%d) = %q, want %q", status, got, want)
		}
	}
}
