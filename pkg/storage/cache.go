package storage

import (
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
)

const defaultMaxCacheSize = 10000

// InMemoryCache is a general purpose cache to store things in memory.
type InMemoryCache[T any] interface {
	// Get returns the value stored for key, or the zero value if the key is
	// missing or expired.
	Get(key string) T
	Set(key string, value T, ttl time.Duration)

	// Stop cleans resources.
	Stop()
}

// InMemoryTTLCache is an InMemoryCache bounded by the number of entries, where
// every entry expires after its own TTL.
type InMemoryTTLCache[T any] struct {
	cache       *theine.Cache[string, T]
	maxElements int64
	closeOnce   *sync.Once
}

type InMemoryTTLCacheOpt[T any] func(i *InMemoryTTLCache[T])

func WithMaxCacheSize[T any](maxElements int64) InMemoryTTLCacheOpt[T] {
	return func(i *InMemoryTTLCache[T]) {
		i.maxElements = maxElements
	}
}

var _ InMemoryCache[any] = (*InMemoryTTLCache[any])(nil)

func NewInMemoryTTLCache[T any](opts ...InMemoryTTLCacheOpt[T]) (*InMemoryTTLCache[T], error) {
	t := &InMemoryTTLCache[T]{
		maxElements: defaultMaxCacheSize,
		closeOnce:   &sync.Once{},
	}

	for _, opt := range opts {
		opt(t)
	}

	cache, err := theine.NewBuilder[string, T](t.maxElements).Build()
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

func (i *InMemoryTTLCache[T]) Get(key string) T {
	value, _ := i.cache.Get(key)
	return value
}

func (i *InMemoryTTLCache[T]) Set(key string, value T, ttl time.Duration) {
	i.cache.SetWithTTL(key, value, 1, ttl)
}

func (i *InMemoryTTLCache[T]) Stop() {
	i.closeOnce.Do(func() {
		i.cache.Close()
	})
}
