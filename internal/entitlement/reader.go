package entitlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"spotto-service/internal/model"
)

const DefaultLookupTimeout = 3 * time.Second

var (
	accessCacheHitCounter  = metrics.GetOrCreateCounter(`access_cache_total{result="hit"}`)
	accessCacheMissCounter = metrics.GetOrCreateCounter(`access_cache_total{result="miss"}`)
)

type MembershipLookup interface {
	GetMembership(ctx context.Context, userID string) (*model.Membership, error)
}

// Reader answers "does this user have access" from a short-lived cache in
// front of the memberships table. Denials are cached for a quarter of the
// TTL so a fresh purchase is picked up quickly even without invalidation.
type Reader struct {
	lookup        MembershipLookup
	cache         *cache.Cache
	ttl           time.Duration
	negative      time.Duration
	lookupTimeout time.Duration
	group         singleflight.Group
	logger        *slog.Logger

	// generations counts invalidations per user; a lookup only caches its
	// result if no invalidation happened while it ran.
	mu          sync.Mutex
	generations map[string]uint64
}

type ReaderOption func(*Reader)

// WithLookupTimeout bounds the shared membership query.
func WithLookupTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// NewReader builds a Reader. A ttl of zero disables caching.
func NewReader(lookup MembershipLookup, ttl time.Duration, logger *slog.Logger, opts ...ReaderOption) *Reader {
	r := &Reader{
		lookup:        lookup,
		ttl:           ttl,
		negative:      ttl / 4,
		lookupTimeout: DefaultLookupTimeout,
		logger:        logger,
		generations:   map[string]uint64{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// HasAccess reports whether userID holds an active membership. Lookup
// failures are returned wrapped in model.ErrStorageTransient and never cached.
//
// Concurrent callers for one user share a single query. The query runs
// detached from any caller's cancellation; each caller still stops waiting
// when its own ctx is done.
func (r *Reader) HasAccess(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(userID); ok {
			accessCacheHitCounter.Inc()
			return v.(bool), nil
		}
	}
	accessCacheMissCounter.Inc()

	ch := r.group.DoChan(userID, func() (any, error) {
		gen := r.generation(userID)

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()

		m, err := r.lookup.GetMembership(lookupCtx, userID)
		if err != nil {
			return false, transient("membership lookup", err)
		}
		allowed := m != nil && m.HasAccess
		r.remember(userID, allowed, gen)
		return allowed, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, errors.Wrap(ctx.Err(), "membership lookup")
	}
}

func (r *Reader) generation(userID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[userID]
}

func (r *Reader) remember(userID string, allowed bool, gen uint64) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[userID] != gen {
		return
	}
	if allowed {
		r.cache.Set(userID, true, r.ttl)
		return
	}
	r.cache.Set(userID, false, r.negative)
}

// Invalidate drops the cached decision for userID. Lookups already in flight
// neither cache their result nor serve later callers.
func (r *Reader) Invalidate(userID string) {
	r.mu.Lock()
	r.generations[userID]++
	if r.cache != nil {
		r.cache.Delete(userID)
	}
	r.mu.Unlock()

	r.group.Forget(userID)
	r.logger.Debug("Access cache invalidated", "userId", userID)
}
