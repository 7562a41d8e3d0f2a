package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChannelMonitor/internal/domain"
)

type fakeHash struct {
	fields map[string]string
	err    error
	set    []interface{}
}

func (f *fakeHash) HGetAll(_ context.Context, _ string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(f.fields, f.err)
}

func (f *fakeHash) HSet(_ context.Context, _ string, values ...interface{}) *redis.IntCmd {
	f.set = append(f.set, values...)
	return redis.NewIntResult(int64(len(values)), f.err)
}

func TestRedisStoreLoad(t *testing.T) {
	t.Parallel()

	store := NewRedisStore(&fakeHash{fields: map[string]string{"@deals": "120"}}, "")
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.ChannelID]int64{"@deals": 120}, got)
}

func TestRedisStoreLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	store := NewRedisStore(&fakeHash{fields: map[string]string{"@deals": "abc"}}, "")
	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisStoreSave(t *testing.T) {
	t.Parallel()

	hash := &fakeHash{}
	store := NewRedisStore(hash, "custom")
	require.NoError(t, store.Save(context.Background(), map[domain.ChannelID]int64{"@deals": 9}))

	require.Len(t, hash.set, 1)
	assert.Equal(t, map[string]interface{}{"@deals": int64(9)}, hash.set[0])
}

func TestRedisStoreSaveError(t *testing.T) {
	t.Parallel()

	hash := &fakeHash{err: errors.New("connection refused")}
	err := NewRedisStore(hash, "").Save(context.Background(), map[domain.ChannelID]int64{"@deals": 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultRedisKey)
}
