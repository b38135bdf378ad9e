package replycache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "parley:reply:"

// RedisStore shares the reply cache across service instances. Errors are
// logged at debug level and treated as misses; the cache is advisory and must
// never surface a backend failure to a conversation turn.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, utterance string) (string, bool) {
	key := Normalize(utterance)
	if key == "" {
		return "", false
	}
	reply, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug("reply cache get failed", zap.Error(err))
		}
		return "", false
	}
	return reply, true
}

func (s *RedisStore) Put(ctx context.Context, utterance, reply string) {
	key := Normalize(utterance)
	if key == "" || reply == "" {
		return
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, reply, s.ttl).Err(); err != nil {
		s.logger.Debug("reply cache put failed", zap.Error(err))
	}
}
