package history

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// RedisConfig 会话历史的 Redis 存储配置。
type RedisConfig struct {
	// TTL 会话最后一次写入后的保留时间，0 表示永不过期。
	TTL time.Duration
	// KeyPrefix 键前缀。
	KeyPrefix string
	// MaxMessages 每个会话最多保留的消息数，0 表示不限制。
	MaxMessages int
}

// DefaultRedisConfig 返回默认配置。
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		TTL:         24 * time.Hour,
		KeyPrefix:   "rag:history:",
		MaxMessages: 100,
	}
}

// RedisStore 将每个会话存为一个 JSON 消息列表，每次追加都会刷新 TTL。
type RedisStore struct {
	redis  goredis.UniversalClient
	config *RedisConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 会话历史存储。
func NewRedisStore(redis goredis.UniversalClient, config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisStore{redis: redis, config: config}
}

func (s *RedisStore) key(sessionID string) string {
	return s.config.KeyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]model.Message, error) {
	items, err := s.redis.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", sessionID, err)
	}
	msgs := make([]model.Message, 0, len(items))
	for _, item := range items {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", sessionID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode history message: %w", err)
		}
		values = append(values, data)
	}

	key := s.key(sessionID)
	_, err := s.redis.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if s.config.MaxMessages > 0 {
			pipe.LTrim(ctx, key, int64(-s.config.MaxMessages), -1)
		}
		if s.config.TTL > 0 {
			pipe.Expire(ctx, key, s.config.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history of %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete history of %s: %w", sessionID, err)
	}
	return nil
}
