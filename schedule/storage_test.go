package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage(t *testing.T) {
	s := NewMemStorage()
	assert.Equal(t, StorageBackendMem, s.BackendType())

	_, ok := s.Get("p1")
	assert.False(t, ok)

	s.Set("p1", "backend-0:8080")
	v, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "backend-0:8080", v)

	s.Set("p1", "backend-1:8080")
	v, _ = s.Get("p1")
	assert.Equal(t, "backend-1:8080", v)

	s.Del("p1")
	_, ok = s.Get("p1")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	s.Del("p1")
}

func TestNewStorageBackend(t *testing.T) {
	t.Run("mem", func(t *testing.T) {
		s, err := NewStorageBackend(StorageBackendMem)
		require.NoError(t, err)
		assert.Equal(t, StorageBackendMem, s.BackendType())
	})

	t.Run("redis needs client type and address", func(t *testing.T) {
		_, err := NewStorageBackend(StorageBackendRedis)
		assert.Error(t, err)
		_, err = NewStorageBackend(StorageBackendRedis, RedisClientSimple)
		assert.Error(t, err)
	})

	t.Run("redis simple", func(t *testing.T) {
		s, err := NewStorageBackend(StorageBackendRedis, RedisClientSimple, "localhost:6379")
		require.NoError(t, err)
		assert.Equal(t, StorageBackendRedis, s.BackendType())
	})

	t.Run("redis sentinel", func(t *testing.T) {
		s, err := NewStorageBackend(StorageBackendRedis, RedisClientSentinel, "localhost:26379", "mymaster")
		require.NoError(t, err)
		assert.Equal(t, StorageBackendRedis, s.BackendType())
	})

	t.Run("unknown client type", func(t *testing.T) {
		_, err := NewStorageBackend(StorageBackendRedis, "cluster", "localhost:6379")
		assert.Error(t, err)
	})

	t.Run("unknown backend type", func(t *testing.T) {
		_, err := NewStorageBackend(StorageBackendType(99))
		assert.Error(t, err)
	})
}
