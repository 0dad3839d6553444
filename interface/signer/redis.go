package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spatialops/stac-fetcher/resolver"
)

// RedisStore implements resolver.TokenStore on a redis instance, so that the
// processes of a hub deployment share one token per scope instead of each
// hitting the signing endpoint.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "stac-fetcher:token:",
	}
}

func (r *RedisStore) Get(ctx context.Context, scope resolver.Scope) (resolver.Token, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+scope.String()).Result()
	if err == redis.Nil {
		return resolver.Token{}, false, nil
	}
	if err != nil {
		return resolver.Token{}, false, fmt.Errorf("RedisStore.Get[%s]: %w", scope, err)
	}
	var token resolver.Token
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return resolver.Token{}, false, fmt.Errorf("RedisStore.Get[%s]: %w", scope, err)
	}
	return token, true, nil
}

func (r *RedisStore) Put(ctx context.Context, scope resolver.Scope, token resolver.Token) error {
	b, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("RedisStore.Put[%s]: %w", scope, err)
	}
	// the entry evicts itself at expiry
	ttl := time.Until(token.Expiry)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+scope.String(), b, ttl).Err(); err != nil {
		return fmt.Errorf("RedisStore.Put[%s]: %w", scope, err)
	}
	return nil
}
