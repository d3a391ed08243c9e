package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps every session in one hash: field = channel, value = snapshot JSON.
// Durability follows the server's appendonly/fsync settings.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pomobot:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info("redis store connected", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return &redisStore{client: client, key: prefix + "sessions", log: log}, nil
}

func (r *redisStore) Put(ctx context.Context, snap pomo.Snapshot) error {
	b, err := pomo.EncodeSnapshot(snap)
	if err != nil {
		return unavailable("encode", err)
	}
	return unavailable("put", r.client.HSet(ctx, r.key, snap.Channel, b).Err())
}

func (r *redisStore) Delete(ctx context.Context, channel string) error {
	return unavailable("delete", r.client.HDel(ctx, r.key, channel).Err())
}

func (r *redisStore) LoadAll(ctx context.Context) ([]Entry, error) {
	m, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("load", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, decodeEntry(k, []byte(m[k])))
	}
	return out, nil
}

func (r *redisStore) Close() error { return r.client.Close() }
