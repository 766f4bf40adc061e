package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/shortloop/shortloop/internal/app/metrics"
	"github.com/shortloop/shortloop/internal/app/model"
	"go.uber.org/zap"
)

const (
	linkKeyPrefix = "link:"
	linkCacheTTL  = time.Hour

	// Bloom filter sizing. False positives only cost a database round
	// trip, so a modest error rate is fine.
	bloomCapacity = 1_000_000
	bloomFPRate   = 0.001
)

// CachedLinkRepository decorates a LinkRepository with a Redis read-through
// cache and a bloom filter over known identifiers.
//
// Only creation-fixed fields are served from cache: the target URL, the
// active flag, the expiry and the password settings never change after
// creation, so a cached copy cannot go stale. ClickCount is zeroed before
// caching and must never be read through this decorator; analytics reads
// go to the base repository.
//
// The bloom filter is advisory: it goes stale for identifiers persisted
// by other instances after Warm, so a filter miss only skips the cache
// tier and the store stays authoritative. A store hit on a missed
// identifier repairs the filter. Reaped links stay in the filter until
// restart; that only produces false positives, which fall through to the
// store.
type CachedLinkRepository struct {
	LinkRepository

	logger *zap.Logger
	rdb    *redis.Client

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	warmed bool
}

// NewCachedLinkRepository wraps inner with the Redis cache and bloom guard.
func NewCachedLinkRepository(inner LinkRepository, rdb *redis.Client, logger *zap.Logger) *CachedLinkRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLinkRepository{
		LinkRepository: inner,
		logger:         logger,
		rdb:            rdb,
		filter:         bloom.NewWithEstimates(bloomCapacity, bloomFPRate),
	}
}

// Warm seeds the bloom filter from the stored identifiers. Until Warm
// succeeds every identifier is treated as a cache candidate.
func (r *CachedLinkRepository) Warm(ctx context.Context) error {
	ids, err := r.LinkRepository.AllShortIDs(ctx)
	if err != nil {
		return fmt.Errorf("warm short id filter: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.filter.AddString(id)
	}
	r.warmed = true
	return nil
}

func (r *CachedLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.LinkRepository.Create(ctx, link); err != nil {
		return err
	}

	r.mu.Lock()
	r.filter.AddString(link.ShortID)
	r.mu.Unlock()

	r.cacheSet(ctx, link)
	return nil
}

func (r *CachedLinkRepository) GetByShortID(ctx context.Context, shortID string) (*model.Link, error) {
	if r.maybeKnown(shortID) {
		if link := r.cacheGet(ctx, shortID); link != nil {
			return link, nil
		}
	}

	link, err := r.LinkRepository.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.filter.AddString(link.ShortID)
	r.mu.Unlock()

	r.cacheSet(ctx, link)
	return link, nil
}

// maybeKnown reports whether shortID could be in the cache tier. Before
// Warm succeeds every identifier is a candidate.
func (r *CachedLinkRepository) maybeKnown(shortID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.warmed || r.filter.TestString(shortID)
}

// cacheEntry is the Redis representation of a record's creation-fixed
// fields. The model's JSON shape hides the password hash from clients;
// here the hash must survive the round trip so Unlock can verify against
// a cache hit.
type cacheEntry struct {
	ShortID           string     `json:"short_id"`
	OriginalURL       string     `json:"original_url"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	IsActive          bool       `json:"is_active"`
	AnalyticsEnabled  bool       `json:"analytics_enabled"`
	PasswordProtected bool       `json:"password_protected"`
	PasswordHash      *string    `json:"password_hash,omitempty"`
}

// cacheGet returns the cached record or nil. Cache failures degrade to
// the store.
func (r *CachedLinkRepository) cacheGet(ctx context.Context, shortID string) *model.Link {
	data, err := r.rdb.Get(ctx, linkKeyPrefix+shortID).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.Inc()
		return nil
	}
	if err != nil {
		r.logger.Warn("link cache read failed", zap.Error(err), zap.String("short_id", shortID))
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		r.logger.Warn("link cache entry corrupt", zap.Error(err), zap.String("short_id", shortID))
		return nil
	}
	metrics.CacheHits.Inc()
	return &model.Link{
		ShortID:           entry.ShortID,
		OriginalURL:       entry.OriginalURL,
		CreatedAt:         entry.CreatedAt,
		ExpiresAt:         entry.ExpiresAt,
		IsActive:          entry.IsActive,
		AnalyticsEnabled:  entry.AnalyticsEnabled,
		PasswordProtected: entry.PasswordProtected,
		PasswordHash:      entry.PasswordHash,
	}
}

func (r *CachedLinkRepository) cacheSet(ctx context.Context, link *model.Link) {
	data, err := json.Marshal(&cacheEntry{
		ShortID:           link.ShortID,
		OriginalURL:       link.OriginalURL,
		CreatedAt:         link.CreatedAt,
		ExpiresAt:         link.ExpiresAt,
		IsActive:          link.IsActive,
		AnalyticsEnabled:  link.AnalyticsEnabled,
		PasswordProtected: link.PasswordProtected,
		PasswordHash:      link.PasswordHash,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, linkKeyPrefix+link.ShortID, data, linkCacheTTL).Err(); err != nil {
		r.logger.Warn("link cache write failed", zap.Error(err), zap.String("short_id", link.ShortID))
	}
}
