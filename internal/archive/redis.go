package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "chessweb:games:"

type redisRepo struct {
	rdb *redis.Client
}

// NewRedis connects to the Redis at url (redis:// or rediss://) and pings
// it before returning.
func NewRedis(url string) (Repository, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisRepo{rdb: rdb}, nil
}

func (r *redisRepo) Insert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record requires an id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := recordKeyPrefix + rec.ID
	ok, err := r.rdb.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	if !ok {
		return nil
	}
	if err := r.rdb.SAdd(ctx, indexKey(rec.SessionID), rec.ID).Err(); err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	return nil
}

func (r *redisRepo) Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		raw, err := r.rdb.Get(ctx, recordKeyPrefix+id).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read record %s: %w", id, err)
		}
		rec := &Record{}
		if err := json.Unmarshal(raw, rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *redisRepo) Close() error {
	return r.rdb.Close()
}

func indexKey(sessionID string) string {
	return "chessweb:sessions:" + strings.TrimSpace(sessionID) + ":games"
}
