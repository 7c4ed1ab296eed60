package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps transfers in Redis so they survive across processes.
// Take uses GETDEL, so a transfer is read at most once even with several
// readers.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. Keys are stored as "<prefix><key>".
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "casewise:handoff:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, t Transfer) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(Sanitize(t))
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store transfer: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (Transfer, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Transfer{}, false, ErrEmptyKey
	}
	data, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Transfer{}, false, nil
	}
	if err != nil {
		return Transfer{}, false, fmt.Errorf("take transfer: %w", err)
	}
	var t Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return Transfer{}, false, fmt.Errorf("decode transfer: %w", err)
	}
	return t, true, nil
}
