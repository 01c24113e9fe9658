package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/keystone-api/keystone/internal/cache"
)

// Result wraps one listing page with paging information.
type Result struct {
	Rows   []Record
	Paging PagingInfo
}

// PagingInfo describes the window position of a Result.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// SweepReport summarizes one retention sweep.
type SweepReport struct {
	Cutoff  time.Time
	Deleted int64
}

// Service coordinates audit queries and the retention sweep. Listing results
// are cached under the audits key family and invalidated by the sweep.
type Service struct {
	repo      Repository
	cache     *cache.Service
	retention time.Duration
	keepErr   bool
	cacheTTL  time.Duration
}

// NewService constructs the audit query service. cacheSvc may be nil.
func NewService(repo Repository, cacheSvc *cache.Service, retention time.Duration, keepErrors bool, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: cacheSvc, retention: retention, keepErr: keepErrors, cacheTTL: cacheTTL}
}

// List returns one page of audit events. Pages are cached read-through; a
// cache outage degrades to querying the store directly.
func (s *Service) List(ctx context.Context, f Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	key := cache.AuditLogsKey(page, pageSize, filterMap(f))
	var result Result
	load := func(ctx context.Context) (any, error) {
		rows, err := s.repo.Window(ctx, f, offset, pageSize+1)
		if err != nil {
			return nil, err
		}
		hasNext := len(rows) > pageSize
		if hasNext {
			rows = rows[:pageSize]
		}
		paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
		if page > 1 {
			paging.PrevPage = page - 1
		}
		if hasNext {
			paging.NextPage = page + 1
		}
		return Result{Rows: rows, Paging: paging}, nil
	}
	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return Result{}, err
		}
		return value.(Result), nil
	}
	if err := s.cache.Fetch(ctx, key, s.cacheTTL, &result, load); err != nil {
		return Result{}, err
	}
	return result, nil
}

// Export returns every event matching the filters, without paging, for CSV
// download. Never cached: exports want the live view.
func (s *Service) Export(ctx context.Context, f Filters) ([]Record, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	const exportLimit = 10000
	return s.repo.Window(ctx, f, 0, exportLimit)
}

// Stats aggregates event counts per level over the trailing window.
func (s *Service) Stats(ctx context.Context, days int) (map[string]int64, error) {
	if days <= 0 {
		days = 7
	}
	key := cache.AuditStatsKey(days)
	var counts map[string]int64
	load := func(ctx context.Context) (any, error) {
		return s.repo.CountByLevel(ctx, time.Now().UTC().AddDate(0, 0, -days))
	}
	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return value.(map[string]int64), nil
	}
	if err := s.cache.Fetch(ctx, key, s.cacheTTL, &counts, load); err != nil {
		return nil, err
	}
	return counts, nil
}

// Sweep deletes events older than the retention window and invalidates the
// cached listings. It is the only path that removes audit data.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	if s.retention <= 0 {
		return SweepReport{}, fmt.Errorf("audit: retention window not configured")
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff, s.keepErr)
	if err != nil {
		return SweepReport{}, err
	}
	if s.cache != nil && deleted > 0 {
		s.cache.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindAuditList))
		s.cache.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindAudit))
	}
	return SweepReport{Cutoff: cutoff, Deleted: deleted}, nil
}

func filterMap(f Filters) map[string]any {
	m := make(map[string]any)
	if f.ActorID != "" {
		m["actor"] = f.ActorID
	}
	if f.Entity != "" {
		m["entity"] = f.Entity
	}
	if f.Action != "" {
		m["action"] = f.Action
	}
	if f.Level != "" {
		m["level"] = f.Level
	}
	if !f.From.IsZero() {
		m["from"] = f.From.Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		m["to"] = f.To.Format(time.RFC3339)
	}
	return m
}
