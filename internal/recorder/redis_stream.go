package recorder

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"wisefido-beacon/internal/models"
	rediscommon "wisefido-beacon/owl-common/redis"
)

// RedisStreamRecorder 将通过事件发布到 Redis Streams，供下游服务消费
type RedisStreamRecorder struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamRecorder 创建 Stream 输出
func NewRedisStreamRecorder(client *redis.Client, stream string, maxLen int64) *RedisStreamRecorder {
	return &RedisStreamRecorder{client: client, stream: stream, maxLen: maxLen}
}

// Record XADD 一条消息
func (r *RedisStreamRecorder) Record(ctx context.Context, rec models.PassageRecord) error {
	_, err := rediscommon.PublishJSONToStream(ctx, r.client, r.stream, rec, rediscommon.StreamOptions{MaxLen: r.maxLen})
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", r.stream, err)
	}
	return nil
}
