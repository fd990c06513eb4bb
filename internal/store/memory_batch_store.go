package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dunamismax/pixelbatch/internal/domain"
)

type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]domain.Batch
	items   map[string]map[uint]domain.ItemResult
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		batches: make(map[string]domain.Batch),
		items:   make(map[string]map[uint]domain.ItemResult),
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, batch domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	s.batches[batch.ID] = batch
	s.items[batch.ID] = make(map[uint]domain.ItemResult)
	return nil
}

func (s *MemoryBatchStore) Get(_ context.Context, id string) (domain.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	return batch, ok, nil
}

func (s *MemoryBatchStore) RecordItem(_ context.Context, batchID string, item domain.ItemResult) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return domain.Progress{}, ErrBatchNotFound
	}
	if item.Index < 1 || int(item.Index) > len(batch.Inputs) {
		return domain.Progress{}, fmt.Errorf("item index %d outside batch of %d", item.Index, len(batch.Inputs))
	}

	item.BatchID = batchID
	s.items[batchID][item.Index] = item

	progress := domain.Tally(len(batch.Inputs), s.sortedItems(batchID))
	if batch.Status != domain.BatchStatusFailed {
		batch.Status = statusFor(progress)
	}
	batch.UpdatedAt = time.Now().UTC()
	s.batches[batchID] = batch
	return progress, nil
}

func (s *MemoryBatchStore) MarkFailed(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	batch.Status = domain.BatchStatusFailed
	batch.UpdatedAt = time.Now().UTC()
	s.batches[batchID] = batch
	return nil
}

func (s *MemoryBatchStore) Items(_ context.Context, batchID string) ([]domain.ItemResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.batches[batchID]; !ok {
		return nil, ErrBatchNotFound
	}
	return s.sortedItems(batchID), nil
}

func (s *MemoryBatchStore) sortedItems(batchID string) []domain.ItemResult {
	items := make([]domain.ItemResult, 0, len(s.items[batchID]))
	for _, item := range s.items[batchID] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	return items
}
