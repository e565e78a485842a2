package evidence

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedGateway is a redis read-through wrapper. Cache failures are logged
// and fall through to the inner gateway; a cold or broken cache must never
// fail a fetch.
type CachedGateway struct {
	inner  Gateway
	client *redis.Client
	ttl    time.Duration
}

func NewCachedGateway(inner Gateway, addr, password string, db int, ttl time.Duration) (*CachedGateway, error) {
	if inner == nil {
		return nil, errors.New("inner gateway is required")
	}
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &CachedGateway{inner: inner, client: client, ttl: ttl}, nil
}

func (g *CachedGateway) Store(ctx context.Context, payload []byte) (string, string, error) {
	uri, contentHash, err := g.inner.Store(ctx, payload)
	if err != nil {
		return "", "", err
	}
	if err := g.client.Set(ctx, cacheKey(uri), payload, g.ttl).Err(); err != nil {
		log.Printf("evidence cache: set %s: %v", uri, err)
	}
	return uri, contentHash, nil
}

func (g *CachedGateway) Fetch(ctx context.Context, uri string) ([]byte, error) {
	cached, err := g.client.Get(ctx, cacheKey(uri)).Bytes()
	if err == nil {
		if Verify(uri, "", cached) == nil {
			return cached, nil
		}
		// Poisoned entry; drop it and refetch.
		g.client.Del(ctx, cacheKey(uri))
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("evidence cache: get %s: %v", uri, err)
	}
	payload, err := g.inner.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := g.client.Set(ctx, cacheKey(uri), payload, g.ttl).Err(); err != nil {
		log.Printf("evidence cache: set %s: %v", uri, err)
	}
	return payload, nil
}

func cacheKey(uri string) string {
	return "evidence:" + uri
}
