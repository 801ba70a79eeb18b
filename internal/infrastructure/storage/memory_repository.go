package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

// MemoryRepository keeps summary records in process memory. It backs the
// no-database development mode and the test suites.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*domain.Summary
}

var _ ports.SummaryRepository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[string]*domain.Summary{}}
}

func (r *MemoryRepository) Create(ctx context.Context, sum *domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[sum.ID]; exists {
		return fmt.Errorf("summary %s already exists", sum.ID)
	}
	cp := cloneSummary(sum)
	r.records[sum.ID] = cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return cloneSummary(sum), nil
}

func (r *MemoryRepository) Update(ctx context.Context, sum *domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[sum.ID]; !ok {
		return fmt.Errorf("summary %s not found", sum.ID)
	}
	r.records[sum.ID] = cloneSummary(sum)
	return nil
}

func (r *MemoryRepository) SetStatusIf(ctx context.Context, id string, from []domain.Status, next domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum, ok := r.records[id]
	if !ok {
		return false, fmt.Errorf("summary %s not found", id)
	}
	for _, s := range from {
		if sum.Status == s {
			sum.Status = next
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[domain.Status]int{}
	for _, sum := range r.records {
		counts[sum.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) ListCompleted(ctx context.Context, limit int, since *time.Time) ([]domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Summary
	for _, sum := range r.records {
		if sum.Status != domain.StatusCompleted {
			continue
		}
		if since != nil && sum.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, *cloneSummary(sum))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneSummary(sum *domain.Summary) *domain.Summary {
	cp := *sum
	if sum.Tags != nil {
		cp.Tags = append([]string(nil), sum.Tags...)
	}
	if sum.ProcessedAt != nil {
		t := *sum.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
