// Package cache holds read-side caches and the tag index used to drop them
// when the underlying rows change.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/clock"
	"go.uber.org/zap"
)

const keyPrefix = "storefront:cache:"

// Common tags.
const (
	TagOrdersList       = "orders:list"
	TagInventorySummary = "inventory:summary"
)

func ProductTag(productID string) string { return "product:" + productID }

func BuyerOrdersTag(buyerRef string) string { return "orders:buyer:" + buyerRef }

// Store caches opaque values under a key and indexes each key by tag so a
// write can invalidate every view derived from it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	// Invalidate drops every key carrying any of the tags and returns how
	// many keys were removed.
	Invalidate(ctx context.Context, tags ...string) (int, error)
}

var ErrEmptyKey = errors.New("cache_empty_key")

type redisStore struct {
	client *redis.Client
}

// NewRedisStore keeps values as plain keys and tags as sets of key names.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func valueKey(key string) string { return keyPrefix + "v:" + key }

func tagKey(tag string) string { return keyPrefix + "tag:" + tag }

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}
	data, err := s.client.Get(ctx, valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, valueKey(key), value, ttl)
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		pipe.SAdd(ctx, tagKey(tag), valueKey(key))
		// tag sets outlive their members by one ttl at most
		if ttl > 0 {
			pipe.Expire(ctx, tagKey(tag), 2*ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Invalidate(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	var errs []error
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		members, err := s.client.SMembers(ctx, tagKey(tag)).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("tag %s: %w", tag, err))
			continue
		}
		keys := append(members, tagKey(tag))
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("tag %s: %w", tag, err))
			continue
		}
		// the tag set itself is not a cached value
		if n > 0 {
			n--
		}
		removed += int(n)
	}
	return removed, errors.Join(errs...)
}

type memoryStore struct {
	values Cache[string, []byte]
	mu     sync.Mutex
	tags   map[string]map[string]struct{}
}

// NewMemoryStore is the single-replica fallback used when redis is absent.
func NewMemoryStore(clk clock.Clock) Store {
	return &memoryStore{
		values: NewTTLCache[string, []byte](clk),
		tags:   make(map[string]map[string]struct{}),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}
	data, ok := s.values.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	s.values.Set(key, append([]byte(nil), value...), ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (s *memoryStore) Invalidate(_ context.Context, tags ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, tag := range tags {
		keys, ok := s.tags[tag]
		if !ok {
			continue
		}
		for key := range keys {
			if _, live := s.values.Get(key); live {
				removed++
			}
			s.values.Delete(key)
		}
		delete(s.tags, tag)
	}
	return removed, nil
}

// NewStore picks redis when a client is configured.
func NewStore(client *redis.Client, clk clock.Clock, log *zap.Logger) Store {
	if client == nil {
		log.Named("cache").Info("using in-memory cache store")
		return NewMemoryStore(clk)
	}
	return NewRedisStore(client)
}
