// Package velocity tracks how many runs a tenant starts within a window.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// counterKey is the per-tenant cache counter behind the run quota.
const counterKey = "runs"

// ErrQuotaExceeded is returned when a tenant has used its quota for the window.
var ErrQuotaExceeded = errors.New("run quota exceeded")

// Service enforces a per-tenant run quota.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// NewService creates a run velocity service. A limit of 0 disables the quota.
func NewService(repo domain.Repository, cache domain.Cache, limit int64, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		limit:  limit,
		window: window,
	}
}

// Limit returns the number of runs allowed per window.
func (s *Service) Limit() int64 { return s.limit }

// Window returns the quota window.
func (s *Service) Window() time.Duration { return s.window }

// Allow records a run for the tenant and returns ErrQuotaExceeded when the
// tenant is over its quota. The shared cache counter is authoritative; when
// it is unavailable the stored runs inside the window are counted instead.
func (s *Service) Allow(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	if s.limit <= 0 {
		return 0, nil
	}

	if s.cache != nil {
		n, err := s.cache.IncrementCounter(ctx, tenantID, counterKey, s.window)
		if err == nil {
			if n > s.limit {
				return n, ErrQuotaExceeded
			}
			return n, nil
		}
		if s.repo == nil {
			return 0, fmt.Errorf("failed to increment run counter: %w", err)
		}
	}

	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	n, err := s.countFromRepo(ctx, tenantID, time.Now().Add(-s.window))
	if err != nil {
		return 0, err
	}
	// The stored count excludes the run being started
	n++
	if n > s.limit {
		return n, ErrQuotaExceeded
	}
	return n, nil
}

// countFromRepo counts the tenant's stored runs created since the given time.
func (s *Service) countFromRepo(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	runs, err := s.repo.ListRuns(ctx, tenantID, int(s.limit)+1)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}
	var n int64
	for _, r := range runs {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
