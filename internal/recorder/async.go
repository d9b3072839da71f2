package recorder

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"wisefido-beacon/internal/models"
)

// ErrQueueFull 写入队列已满
var ErrQueueFull = errors.New("passage queue full")

// AsyncRecorder 在独立 goroutine 中写入下游输出，Record 只入队不阻塞
type AsyncRecorder struct {
	next   Recorder
	queue  chan models.PassageRecord
	logger *zap.Logger

	written atomic.Int64
	failed  atomic.Int64
}

// NewAsyncRecorder 创建异步输出，buffer 为队列容量
func NewAsyncRecorder(next Recorder, buffer int, logger *zap.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &AsyncRecorder{
		next:   next,
		queue:  make(chan models.PassageRecord, buffer),
		logger: logger,
	}
}

// Record 入队；队列满时返回 ErrQueueFull
func (a *AsyncRecorder) Record(_ context.Context, rec models.PassageRecord) error {
	select {
	case a.queue <- rec:
		return nil
	default:
		a.failed.Add(1)
		return ErrQueueFull
	}
}

// Written 已交给下游且成功的事件数
func (a *AsyncRecorder) Written() int64 {
	return a.written.Load()
}

// Failed 入队失败或下游写入失败的事件数
func (a *AsyncRecorder) Failed() int64 {
	return a.failed.Load()
}

// Run 逐条写入下游，直到 ctx 取消；退出前写完队列中剩余的事件。
// ctx 只用于停止，已入队事件的写入不受其取消影响。
func (a *AsyncRecorder) Run(ctx context.Context) error {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			a.drain(writeCtx)
			return nil
		case rec := <-a.queue:
			a.write(writeCtx, rec)
		}
	}
}

func (a *AsyncRecorder) drain(ctx context.Context) {
	for {
		select {
		case rec := <-a.queue:
			a.write(ctx, rec)
		default:
			return
		}
	}
}

func (a *AsyncRecorder) write(ctx context.Context, rec models.PassageRecord) {
	if err := a.next.Record(ctx, rec); err != nil {
		a.failed.Add(1)
		a.logger.Warn("Passage not fully recorded",
			zap.String("uuid", rec.UUID),
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return
	}
	a.written.Add(1)
}
