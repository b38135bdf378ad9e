package replycache

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend   string
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
}

// New builds the configured Store. The memory backend has no external
// dependencies and is the default.
func New(opts Options, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "memory":
		return NewMemoryStore(opts.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
			DB:   opts.RedisDB,
		})
		return NewRedisStore(client, opts.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported reply cache backend %q", opts.Backend)
	}
}
