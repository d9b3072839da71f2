package scanner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"wisefido-beacon/internal/models"
)

// Adapter 本机蓝牙适配器（*bluetooth.Adapter 满足该接口）
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLESource 从本机蓝牙适配器接收广播
type BLESource struct {
	adapter Adapter
	logger  *zap.Logger
	now     func() time.Time
	dropped atomic.Int64
}

// NewBLESource 创建本机蓝牙广播源
func NewBLESource(adapter Adapter, logger *zap.Logger) *BLESource {
	return &BLESource{
		adapter: adapter,
		logger:  logger,
		now:     time.Now,
	}
}

// Dropped 因队列已满而丢弃的广播数
func (s *BLESource) Dropped() int64 {
	return s.dropped.Load()
}

// Run 启动扫描，直到 ctx 取消。扫描回调中不阻塞：队列满时丢弃。
func (s *BLESource) Run(ctx context.Context, out chan<- models.Advertisement) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := s.adapter.StopScan(); err != nil {
			s.logger.Warn("Failed to stop BLE scan", zap.Error(err))
		}
	}()

	s.logger.Info("BLE scan started")

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := FromManufacturerData(result.Address.String(), result.ManufacturerData(), int(result.RSSI), s.now())
		if adv.ManufacturerData == nil {
			return
		}
		s.enqueue(out, adv)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("BLE scan failed: %w", err)
	}

	s.logger.Info("BLE scan stopped", zap.Int64("dropped", s.Dropped()))
	return nil
}

func (s *BLESource) enqueue(out chan<- models.Advertisement, adv models.Advertisement) {
	select {
	case out <- adv:
	default:
		s.dropped.Add(1)
	}
}

// FromManufacturerData 将扫描结果转换为广播消息，无厂商数据时 ManufacturerData 为 nil
func FromManufacturerData(address string, elements []bluetooth.ManufacturerDataElement, rssi int, now time.Time) models.Advertisement {
	adv := models.Advertisement{
		Address:    address,
		RSSI:       rssi,
		ReceivedAt: now,
		Source:     "ble",
	}
	if len(elements) == 0 {
		return adv
	}
	adv.ManufacturerData = make(map[uint16][]byte, len(elements))
	for _, el := range elements {
		adv.ManufacturerData[el.CompanyID] = el.Data
	}
	return adv
}
