package indexer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"

	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/metrics"
)

// ttlCache is a thread-safe bounded LRU whose entries expire after ttl.
type ttlCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type ttlEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

func newTTLCache[K comparable, V any](maxSize int, ttl time.Duration) *ttlCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ttlCache[K, V]{
		items:   make(map[K]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a live entry and promotes it. Expired entries are dropped.
func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*ttlEntry[K, V])
	if !c.now().Before(entry.expires) {
		c.lru.Remove(elem)
		delete(c.items, key)
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return entry.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*ttlEntry[K, V])
		entry.value = value
		entry.expires = expires
		return
	}

	for len(c.items) >= c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.lru.Remove(back)
		delete(c.items, back.Value.(*ttlEntry[K, V]).key)
	}

	c.items[key] = c.lru.PushFront(&ttlEntry[K, V]{key: key, value: value, expires: expires})
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CachedSource serves repeated identical fetches from a TTL-bounded LRU and
// collapses concurrent identical fetches into one upstream call. Pages of
// one walk share their upstream batches this way.
//
// The shared upstream call does not inherit a caller's cancellation; a
// caller that gives up stops waiting but leaves the fetch to the others.
type CachedSource struct {
	inner   TokenFetcher
	cache   *ttlCache[string, []domain.TokenRecord]
	group   singleflight.Group
	timeout time.Duration
}

// NewCachedSource bounds each shared upstream call by timeout; zero leaves
// it to the inner fetcher.
func NewCachedSource(inner TokenFetcher, size int, ttl, timeout time.Duration) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newTTLCache[string, []domain.TokenRecord](size, ttl),
		timeout: timeout,
	}
}

func (s *CachedSource) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	key, err := sonic.Marshal(params)
	if err != nil {
		return nil, err
	}

	if records, ok := s.cache.Get(string(key)); ok {
		metrics.SourceCacheHits.Inc()
		return cloneRecords(records), nil
	}
	metrics.SourceCacheMisses.Inc()

	ch := s.group.DoChan(string(key), func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.timeout)
			defer cancel()
		}

		records, err := s.inner.FetchTopTokens(fetchCtx, params)
		if err != nil {
			return nil, err
		}
		s.cache.Set(string(key), records)
		metrics.SourceCacheSize.Set(float64(s.cache.Len()))
		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRecords(res.Val.([]domain.TokenRecord)), nil
	}
}

func cloneRecords(records []domain.TokenRecord) []domain.TokenRecord {
	return append([]domain.TokenRecord(nil), records...)
}
