package recorder

import (
	"context"

	"wisefido-beacon/internal/models"
)

// PassageStore 通过事件表写入（repository.PassageRepository 满足该接口）
type PassageStore interface {
	InsertPassage(ctx context.Context, rec models.PassageRecord) error
}

// PostgresRecorder 写入 passage_events 表
type PostgresRecorder struct {
	store PassageStore
}

// NewPostgresRecorder 创建数据库输出
func NewPostgresRecorder(store PassageStore) *PostgresRecorder {
	return &PostgresRecorder{store: store}
}

// Record 插入一条通过事件
func (r *PostgresRecorder) Record(ctx context.Context, rec models.PassageRecord) error {
	return r.store.InsertPassage(ctx, rec)
}
