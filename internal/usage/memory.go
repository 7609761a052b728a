// Package usage provides UsageStore implementations for the cost governor.
// Every store keys aggregates by tenant and UTC calendar day.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/arcwell-foundry/aria/internal/governor"
)

// DayFormat is the layout of the per-day bucket key
const DayFormat = "2006-01-02"

// Day returns the UTC day bucket for t
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// MemoryStore keeps daily usage in process memory
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]map[string]governor.DailyUsage
	now  func() time.Time
}

var _ governor.UsageStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		days: make(map[string]map[string]governor.DailyUsage),
		now:  now,
	}
}

// ReadTodayUsage returns the tenant's aggregate for the current UTC day
func (s *MemoryStore) ReadTodayUsage(ctx context.Context, tenantID string) (governor.DailyUsage, error) {
	if err := ctx.Err(); err != nil {
		return governor.DailyUsage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days[Day(s.now())][tenantID], nil
}

// IncrementUsage adds delta to the tenant's aggregate for the current UTC day
func (s *MemoryStore) IncrementUsage(ctx context.Context, tenantID string, delta governor.UsageDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := Day(s.now())
	tenants, ok := s.days[day]
	if !ok {
		tenants = make(map[string]governor.DailyUsage)
		s.days[day] = tenants
	}

	current := tenants[tenantID]
	current.InputTokens += delta.InputTokens
	current.OutputTokens += delta.OutputTokens
	current.ThinkingTokens += delta.ThinkingTokens
	current.CacheReadTokens += delta.CacheReadTokens
	current.CacheCreationTokens += delta.CacheCreationTokens
	current.EstimatedCost += delta.EstimatedCost
	current.Requests++
	tenants[tenantID] = current
	return nil
}

// Prune drops every day bucket older than keep days
func (s *MemoryStore) Prune(keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := Day(s.now().AddDate(0, 0, -keep))
	removed := 0
	for day := range s.days {
		if day < cutoff {
			delete(s.days, day)
			removed++
		}
	}
	return removed
}
