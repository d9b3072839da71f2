package recorder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wisefido-beacon/internal/models"
)

// Recorder 通过事件的持久化接口
type Recorder interface {
	Record(ctx context.Context, rec models.PassageRecord) error
}

// Named 带名称的输出，便于日志定位
type Named struct {
	Name     string
	Recorder Recorder
}

// MultiRecorder 依次写入所有输出。单个输出失败不影响其他输出，也不重试。
type MultiRecorder struct {
	sinks  []Named
	logger *zap.Logger
}

// NewMultiRecorder 创建组合输出
func NewMultiRecorder(logger *zap.Logger, sinks ...Named) *MultiRecorder {
	return &MultiRecorder{sinks: sinks, logger: logger}
}

// Sinks 已配置的输出名称
func (m *MultiRecorder) Sinks() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name)
	}
	return names
}

// Record 写入全部输出，返回所有失败的合并错误
func (m *MultiRecorder) Record(ctx context.Context, rec models.PassageRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Recorder.Record(ctx, rec); err != nil {
			m.logger.Error("Failed to record passage",
				zap.String("sink", s.Name),
				zap.String("uuid", rec.UUID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
