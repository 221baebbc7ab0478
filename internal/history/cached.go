package history

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"rangecompare/internal/series"
)

// CachedSource serves closed ranges from the cache and falls through to the
// wrapped source otherwise. A range is only stored once it ended at least
// settle ago; ranges touching the present are still growing.
type CachedSource struct {
	source Source
	cache  *Cache
	settle time.Duration
	now    func() time.Time
}

// NewCachedSource wraps source with cache
func NewCachedSource(source Source, cache *Cache, settle time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  cache,
		settle: settle,
		now:    time.Now,
	}
}

func (cs *CachedSource) Name() string { return cs.source.Name() + "+cache" }

// Fetch returns a range, using the cache if available
func (cs *CachedSource) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	cacheable := !to.After(cs.now().Add(-cs.settle))

	if cacheable {
		samples, err := cs.cache.Get(entityID, from, to)
		if err != nil {
			log.WithError(err).WithField("entity", entityID).Warn("history cache read failed")
		} else if samples != nil {
			log.WithFields(log.Fields{"entity": entityID, "samples": len(samples)}).Debug("history cache hit")
			return samples, nil
		}
	}

	samples, err := cs.source.Fetch(ctx, entityID, from, to)
	if err != nil {
		return nil, err
	}

	if cacheable {
		// Log but don't fail - we have the data
		if err := cs.cache.Put(entityID, from, to, samples); err != nil {
			log.WithError(err).WithField("entity", entityID).Warn("failed to cache history range")
		}
	}
	return samples, nil
}
