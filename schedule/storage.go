package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// StorageBackendType enumerates the party registry backends.
type StorageBackendType int

// StorageBackendType enum values
const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

// Redis client flavours accepted by NewStorageBackend.
const (
	RedisClientSimple   = "simple"
	RedisClientSentinel = "sentinel"
)

const (
	registryKeyPrefix = "wp:party:"
	// Entries are refreshed on every orchestrator poll; the TTL only
	// reaps parties whose backend died.
	registryTTL    = 24 * time.Hour
	redisOpTimeout = 2 * time.Second

	defaultSentinelMaster = "mymaster"
)

// ReadOnlyStorage is the registry view the reverse proxy needs.
type ReadOnlyStorage interface {
	BackendType() StorageBackendType
	Get(string) (string, bool)
}

// Storage is the party registry mapping party ids to backend hosts.
type Storage interface {
	BackendType() StorageBackendType
	Get(string) (string, bool)
	Set(string, string)
	Del(string)
}

type memBackend struct {
	m     map[string]string
	mutex *sync.RWMutex
}

func (b *memBackend) Get(k string) (string, bool) {
	b.mutex.RLock()
	v, ok := b.m[k]
	b.mutex.RUnlock()
	return v, ok
}

func (b *memBackend) Set(k string, v string) {
	b.mutex.Lock()
	b.m[k] = v
	b.mutex.Unlock()
}

func (b *memBackend) Del(k string) {
	b.mutex.Lock()
	delete(b.m, k)
	b.mutex.Unlock()
}

func (b *memBackend) BackendType() StorageBackendType {
	return StorageBackendMem
}

// NewMemStorage creates a process-local registry for single-node
// deployments and tests.
func NewMemStorage() Storage {
	return &memBackend{
		m:     make(map[string]string),
		mutex: &sync.RWMutex{},
	}
}

type redisBackend struct {
	client redis.UniversalClient
}

// NewRedisStorage wraps an existing redis client as a party registry.
func NewRedisStorage(c redis.UniversalClient) Storage {
	return &redisBackend{client: c}
}

func (b *redisBackend) Get(k string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := b.client.Get(ctx, registryKeyPrefix+k).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("module", "schedule.storage").Str("party", k).Msg("registry lookup failed")
		}
		return "", false
	}
	return v, true
}

func (b *redisBackend) Set(k string, v string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := b.client.Set(ctx, registryKeyPrefix+k, v, registryTTL).Err(); err != nil {
		log.Warn().Err(err).Str("module", "schedule.storage").Str("party", k).Msg("registry update failed")
	}
}

func (b *redisBackend) Del(k string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := b.client.Del(ctx, registryKeyPrefix+k).Err(); err != nil {
		log.Warn().Err(err).Str("module", "schedule.storage").Str("party", k).Msg("registry delete failed")
	}
}

func (b *redisBackend) BackendType() StorageBackendType {
	return StorageBackendRedis
}

// NewRedisClient builds a redis client of the given flavour. For
// sentinel the master name may be supplied after the address and
// defaults to "mymaster".
func NewRedisClient(ctype string, addr string, extra ...string) (redis.UniversalClient, error) {
	switch ctype {
	case RedisClientSimple:
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	case RedisClientSentinel:
		master := defaultSentinelMaster
		if len(extra) > 0 && extra[0] != "" {
			master = extra[0]
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    master,
			SentinelAddrs: []string{addr},
		}), nil
	default:
		return nil, errors.New("unsupported redis client type " + ctype)
	}
}

// NewStorageBackend creates a party registry of the given type. Redis
// backends take the client flavour and address as arguments, e.g.
// NewStorageBackend(StorageBackendRedis, RedisClientSentinel, addr).
func NewStorageBackend(typ StorageBackendType, args ...string) (Storage, error) {
	switch typ {
	case StorageBackendMem:
		return NewMemStorage(), nil
	case StorageBackendRedis:
		if len(args) < 2 {
			return nil, errors.New("redis backend needs a client type and an address")
		}
		c, err := NewRedisClient(args[0], args[1], args[2:]...)
		if err != nil {
			return nil, err
		}
		return NewRedisStorage(c), nil
	default:
		return nil, errors.New("unsupported backend type")
	}
}
