package tracker

import (
	"sync"
	"time"
)

// PassageEvent 通过事件
type PassageEvent struct {
	UUID      string
	PeakRSSI  int
	Timestamp time.Time
}

type record struct {
	peakRSSI int
	lastSeen time.Time
	fired    bool
}

// Tracker 按 UUID 追踪 RSSI，判定信标的到达与离开。
// Observe 和 Sweep 可以从不同 goroutine 调用，整个映射由同一把锁保护。
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*record
}

// New 创建追踪器
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyTimeout
	}
	return &Tracker{
		cfg:     cfg,
		records: make(map[string]*record),
	}, nil
}

// Config 返回追踪器配置
func (t *Tracker) Config() Config {
	return t.cfg
}

// Observe 记录一次观测。
// 仅在 PolicyPeakDrop 下可能立即返回通过事件（ok=true）。
func (t *Tracker) Observe(uuid string, rssi int, now time.Time) (PassageEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.records[uuid]
	if !exists {
		t.records[uuid] = &record{peakRSSI: rssi, lastSeen: now}
		return PassageEvent{}, false
	}

	// 时钟回拨时以最后一次写入为准
	r.lastSeen = now
	if rssi > r.peakRSSI {
		r.peakRSSI = rssi
		r.fired = false
	}

	if t.cfg.Policy != PolicyPeakDrop {
		return PassageEvent{}, false
	}

	if !r.fired && r.peakRSSI >= t.cfg.MinPeakRSSI && rssi <= r.peakRSSI-t.cfg.DropThreshold {
		ev := PassageEvent{UUID: uuid, PeakRSSI: r.peakRSSI, Timestamp: now}
		r.fired = true
		// 为下一次通过重置峰值
		r.peakRSSI = rssi
		return ev, true
	}
	return PassageEvent{}, false
}

// Sweep 移除超时的信标，返回符合条件的通过事件（顺序不保证）
func (t *Tracker) Sweep(now time.Time) []PassageEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []PassageEvent
	for uuid, r := range t.records {
		if now.Sub(r.lastSeen) < t.cfg.Timeout {
			continue
		}
		delete(t.records, uuid)

		if r.peakRSSI < t.cfg.MinPeakRSSI {
			continue
		}
		if t.cfg.Policy == PolicyPeakDrop && r.fired {
			continue
		}
		events = append(events, PassageEvent{UUID: uuid, PeakRSSI: r.peakRSSI, Timestamp: now})
	}
	return events
}

// Len 当前追踪中的信标数量
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot 单个信标的当前状态
type Snapshot struct {
	PeakRSSI int
	LastSeen time.Time
	Fired    bool
}

// Lookup 查询单个信标的追踪状态
func (t *Tracker) Lookup(uuid string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[uuid]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{PeakRSSI: r.peakRSSI, LastSeen: r.lastSeen, Fired: r.fired}, true
}
