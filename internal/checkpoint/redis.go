package checkpoint

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
)

const redisTimeout = 5 * time.Second

// RedisStore keeps msgpack-encoded histories in redis under
// <prefix>thread:<id>.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})
	s := &RedisStore{client: client, keyPrefix: opts.KeyPrefix, timeout: redisTimeout}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewCheckpointError("ping redis", err).WithTier(config.TierRedis).WithRetryable(true)
	}
	return s, nil
}

// Name implements Store.
func (s *RedisStore) Name() string { return config.TierRedis }

func (s *RedisStore) key(threadID string) string {
	return threadKey(s.keyPrefix, threadID)
}

func threadKey(prefix, threadID string) string {
	return prefix + "thread:" + threadID
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string) (History, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err == redis.Nil {
		return emptyHistory(threadID), nil
	}
	if err != nil {
		return History{}, errors.NewCheckpointError("load history", err).WithTier(s.Name()).WithThreadID(threadID).WithRetryable(true)
	}

	h, err := decodeHistory(data)
	if err != nil {
		return History{}, errors.NewCheckpointError("decode history", err).WithTier(s.Name()).WithThreadID(threadID)
	}
	h.ThreadID = threadID
	return h, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, threadID string, h History) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	h.ThreadID = threadID
	h.UpdatedAt = time.Now().UTC()
	data, err := encodeHistory(h)
	if err != nil {
		return errors.NewCheckpointError("encode history", err).WithTier(s.Name()).WithThreadID(threadID)
	}
	if err := s.client.Set(ctx, s.key(threadID), data, 0).Err(); err != nil {
		return errors.NewCheckpointError("save history", err).WithTier(s.Name()).WithThreadID(threadID).WithRetryable(true)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return errors.NewCheckpointError("delete history", err).WithTier(s.Name()).WithThreadID(threadID)
	}
	return nil
}

// Clear implements Store. It scans for thread keys under the configured
// prefix, so other data in the same database is left alone.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := threadKey(s.keyPrefix, "*")
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, errors.NewCheckpointError("scan thread keys", err).WithTier(s.Name())
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, errors.NewCheckpointError("clear history", err).WithTier(s.Name())
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeHistory(h History) ([]byte, error) {
	return msgpack.Marshal(h)
}

func decodeHistory(data []byte) (History, error) {
	var h History
	err := msgpack.Unmarshal(data, &h)
	return h, err
}
