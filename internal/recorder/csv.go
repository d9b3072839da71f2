package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"wisefido-beacon/internal/models"
)

// CSVHeader 事件文件表头
var CSVHeader = []string{"timestamp", "scanner_id", "uuid", "rssi"}

// CSVRecorder 以追加方式写入事件 CSV，文件为空时先写表头
type CSVRecorder struct {
	path string
	mu   sync.Mutex
}

// NewCSVRecorder 创建 CSV 输出
func NewCSVRecorder(path string) *CSVRecorder {
	return &CSVRecorder{path: path}
}

// Path 文件路径
func (r *CSVRecorder) Path() string {
	return r.path
}

// Record 追加一行
func (r *CSVRecorder) Record(_ context.Context, rec models.PassageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat events file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.Write([]string{
		rec.FormattedTimestamp(),
		rec.ScannerID,
		rec.UUID,
		strconv.Itoa(rec.PeakRSSI),
	}); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush events file: %w", err)
	}
	return f.Sync()
}
