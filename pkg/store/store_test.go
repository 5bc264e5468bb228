package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]BlobStore{
		"file":  fs,
		"redis": NewRedisStore(client, "", 0),
	}
}

func TestBlobStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		require.NoError(t, s.Put(ctx, KeyEvidenceTrie, []byte("first")), name)
		require.NoError(t, s.Put(ctx, KeyEvidenceTrie, []byte("second")), name)

		got, err := s.Get(ctx, KeyEvidenceTrie)
		require.NoError(t, err, name)
		assert.Equal(t, []byte("second"), got, name)

		_, err = s.Get(ctx, KeyDecisionTrie)
		assert.ErrorIs(t, err, ErrNotFound, name)

		assert.Error(t, s.Put(ctx, "../escape", []byte("x")), name)
		_, err = s.Get(ctx, "")
		assert.Error(t, err, name)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Put(context.Background(), KeyScores, []byte("[]")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KeyScores, entries[0].Name())
	assert.Equal(t, filepath.Join(dir, KeyScores), fs.Path(KeyScores))
}

func TestFileStore_Cancelled(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fs.Put(ctx, KeyScores, nil), context.Canceled)
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "test:", time.Hour)
	require.NoError(t, s.Put(context.Background(), KeyDecisionTrie, []byte{0, 1, 2}))

	assert.True(t, mr.Exists("test:"+KeyDecisionTrie))
	assert.Equal(t, time.Hour, mr.TTL("test:"+KeyDecisionTrie))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(context.Background(), KeyDecisionTrie)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = DialRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
