package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-userhooks/core"
)

const runCacheKeyPrefix = "go-userhooks::run::v1"

// CachedRunStore serves GetRun reads through a cache and drops the cached
// entry whenever the run is written through it.
type CachedRunStore struct {
	base  core.RunStore
	cache repositorycache.CacheService
}

func NewCachedRunStore(base core.RunStore, cacheService repositorycache.CacheService) (*CachedRunStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base run store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: run cache service is required")
	}
	return &CachedRunStore{base: base, cache: cacheService}, nil
}

// RunCacheKey returns go-userhooks::run::v1::<run_id> with the id path escaped.
func RunCacheKey(runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", core.BadInput("sqlstore: run id is required", nil)
	}
	return runCacheKeyPrefix + "::" + url.PathEscape(runID), nil
}

func (s *CachedRunStore) CreateRun(ctx context.Context, run core.RunRecord) (core.RunRecord, bool, error) {
	if s == nil || s.base == nil {
		return core.RunRecord{}, false, fmt.Errorf("sqlstore: cached run store is not configured")
	}
	return s.base.CreateRun(ctx, run)
}

func (s *CachedRunStore) GetRun(ctx context.Context, id string) (core.RunRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: cached run store is not configured")
	}
	cacheKey, err := RunCacheKey(id)
	if err != nil {
		return core.RunRecord{}, err
	}
	run, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.RunRecord, error) {
		fetched, fetchErr := s.base.GetRun(ctx, strings.TrimSpace(id))
		if fetchErr != nil {
			return core.RunRecord{}, fetchErr
		}
		return cloneRun(fetched), nil
	})
	if err != nil {
		return core.RunRecord{}, err
	}
	return cloneRun(run), nil
}

func (s *CachedRunStore) UpdateRun(ctx context.Context, run core.RunRecord) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached run store is not configured")
	}
	if err := s.base.UpdateRun(ctx, run); err != nil {
		return err
	}
	cacheKey, err := RunCacheKey(run.ID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedRunStore) ListSteps(ctx context.Context, runID string) ([]core.StepRecord, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached run store is not configured")
	}
	return s.base.ListSteps(ctx, runID)
}

func (s *CachedRunStore) SaveStep(ctx context.Context, step core.StepRecord) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached run store is not configured")
	}
	return s.base.SaveStep(ctx, step)
}

func cloneRun(run core.RunRecord) core.RunRecord {
	cloned := run
	cloned.Envelope = run.Envelope.Clone()
	if run.Output != nil {
		cloned.Output = append(json.RawMessage(nil), run.Output...)
	}
	if run.NextAttemptAt != nil {
		at := run.NextAttemptAt.UTC()
		cloned.NextAttemptAt = &at
	}
	return cloned
}

var _ core.RunStore = (*CachedRunStore)(nil)
