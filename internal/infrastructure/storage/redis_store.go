package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

// DefaultRedisKey is the hash holding channel cursors.
const DefaultRedisKey = "channelmonitor:last_ids"

type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisStore keeps cursors as fields of a single Redis hash.
type RedisStore struct {
	client hashClient
	key    string
}

var _ ports.StateStore = (*RedisStore)(nil)

// NewRedisStore wires a go-redis client.
func NewRedisStore(client hashClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the cursor hash.
func (s *RedisStore) Load(ctx context.Context) (map[domain.ChannelID]int64, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	return parseCursorHash(fields)
}

// Save writes every cursor of the snapshot.
func (s *RedisStore) Save(ctx context.Context, cursors map[domain.ChannelID]int64) error {
	if len(cursors) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(cursors))
	for ch, id := range cursors {
		values[string(ch)] = id
	}

	if err := s.client.HSet(ctx, s.key, values).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", s.key, err)
	}
	return nil
}

func parseCursorHash(fields map[string]string) (map[domain.ChannelID]int64, error) {
	out := make(map[domain.ChannelID]int64, len(fields))
	for ch, raw := range fields {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cursor %s: %w", ch, err)
		}
		out[domain.ChannelID(ch)] = id
	}
	return out, nil
}
