package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-beacon/internal/models"
)

// PassageRepository 通过事件仓库（只追加）
type PassageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPassageRepository 创建通过事件仓库
func NewPassageRepository(db *sql.DB, logger *zap.Logger) *PassageRepository {
	return &PassageRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建 passage_events 表（若不存在）
func (r *PassageRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS passage_events (
			event_id    UUID PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			scanner_id  TEXT NOT NULL,
			beacon_uuid TEXT NOT NULL,
			peak_rssi   INTEGER NOT NULL,
			policy      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create passage_events: %w", err)
	}
	return nil
}

// InsertPassage 插入一条通过事件，event_id 重复时忽略
func (r *PassageRepository) InsertPassage(ctx context.Context, rec models.PassageRecord) error {
	if rec.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if rec.ScannerID == "" {
		return fmt.Errorf("scanner_id is required")
	}

	query := `
		INSERT INTO passage_events (
			event_id, occurred_at, scanner_id, beacon_uuid, peak_rssi, policy
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.EventID,
		rec.Timestamp,
		rec.ScannerID,
		rec.UUID,
		rec.PeakRSSI,
		rec.Policy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert passage event: %w", err)
	}

	r.logger.Debug("Inserted passage event",
		zap.String("event_id", rec.EventID),
		zap.String("uuid", rec.UUID),
	)
	return nil
}

// CountSince 统计某扫描器自指定时间以来的通过次数
func (r *PassageRepository) CountSince(ctx context.Context, scannerID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM passage_events
		WHERE scanner_id = $1 AND occurred_at >= $2
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, scannerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count passage events: %w", err)
	}
	return count, nil
}
