package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup is a best-effort seen-set on top of Redis. Persistence-level
// conditional updates remain the authoritative idempotency guard; this just
// short-circuits obvious redeliveries.
type Dedup struct {
	Client  *redis.Client
	Service string
}

func (d *Dedup) Seen(ctx context.Context, id string) bool {
	ok, err := Exists(ctx, d.Client, fmt.Sprintf(KeyDedup, d.Service, id))
	if err != nil {
		return false
	}
	return ok
}

func (d *Dedup) Mark(ctx context.Context, id string) {
	_ = d.Client.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Err()
}
