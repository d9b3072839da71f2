package detector

import (
	"sync"
	"time"

	"wisefido-beacon/internal/scanner"
)

// Metrics 检测指标
type Metrics struct {
	mu sync.RWMutex

	// 广播统计
	AdvertisementsReceived int64
	RejectedNotIBeacon     int64
	RejectedBelowFloor     int64
	RejectedPrefix         int64
	Observations           int64

	// 事件统计
	PassagesRecorded int64
	PassagesFromDrop int64
	RecordFailures   int64

	LastPassageTime time.Time
	StartTime       time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		AdvertisementsReceived: m.AdvertisementsReceived,
		RejectedNotIBeacon:     m.RejectedNotIBeacon,
		RejectedBelowFloor:     m.RejectedBelowFloor,
		RejectedPrefix:         m.RejectedPrefix,
		Observations:           m.Observations,
		PassagesRecorded:       m.PassagesRecorded,
		PassagesFromDrop:       m.PassagesFromDrop,
		RecordFailures:         m.RecordFailures,
		LastPassageTime:        m.LastPassageTime,
		StartTime:              m.StartTime,
	}
}

// recordVerdict 按准入结果计数
func (m *Metrics) recordVerdict(v scanner.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AdvertisementsReceived++
	switch v {
	case scanner.Admitted:
		m.Observations++
	case scanner.NotIBeacon:
		m.RejectedNotIBeacon++
	case scanner.BelowFloor:
		m.RejectedBelowFloor++
	case scanner.PrefixMismatch:
		m.RejectedPrefix++
	}
}

// incrementPassages 增加通过计数，返回累计值
func (m *Metrics) incrementPassages(fromDrop bool, at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PassagesRecorded++
	if fromDrop {
		m.PassagesFromDrop++
	}
	m.LastPassageTime = at
	return m.PassagesRecorded
}

func (m *Metrics) incrementRecordFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordFailures++
}
