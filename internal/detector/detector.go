package detector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/recorder"
	"wisefido-beacon/internal/scanner"
	"wisefido-beacon/internal/tracker"
)

// Options 检测器运行参数
type Options struct {
	ScannerID       string
	SweepInterval   time.Duration
	MetricsInterval time.Duration

	// Dropped 返回广播源因队列满丢弃的数量，可为空
	Dropped func() int64
}

// Detector 广播消费 + 超时检查 + 事件记录
//
// 广播由单个 goroutine 串行消费，超时检查在独立的 ticker goroutine 中执行，
// 两者只通过 Tracker 的锁协调。
type Detector struct {
	opts     Options
	filter   scanner.Filter
	tracker  *tracker.Tracker
	recorder recorder.Recorder
	logger   *zap.Logger
	metrics  *Metrics

	now   func() time.Time
	newID func() string
}

// New 创建检测器
func New(opts Options, filter scanner.Filter, t *tracker.Tracker, rec recorder.Recorder, logger *zap.Logger) *Detector {
	return &Detector{
		opts:     opts,
		filter:   filter,
		tracker:  t,
		recorder: rec,
		logger:   logger,
		metrics:  &Metrics{StartTime: time.Now()},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Metrics 返回指标
func (d *Detector) Metrics() *Metrics {
	return d.metrics
}

// Tracker 返回追踪器
func (d *Detector) Tracker() *tracker.Tracker {
	return d.tracker
}

// Run 消费广播并定期检查超时，直到 ctx 取消或 in 关闭
func (d *Detector) Run(ctx context.Context, in <-chan models.Advertisement) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// 输入关闭时结束其余 goroutine
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case adv, ok := <-in:
				if !ok {
					return nil
				}
				d.HandleAdvertisement(ctx, adv)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(d.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				d.SweepOnce(ctx, d.now())
			}
		}
	})

	if d.opts.MetricsInterval > 0 {
		g.Go(func() error {
			d.reportMetrics(ctx)
			return nil
		})
	}

	return g.Wait()
}

// HandleAdvertisement 准入过滤后送入追踪器，以到达时刻为观测时间
func (d *Detector) HandleAdvertisement(ctx context.Context, adv models.Advertisement) {
	beacon, verdict := d.filter.Admit(adv.ManufacturerData, adv.RSSI)
	d.metrics.recordVerdict(verdict)
	if verdict != scanner.Admitted {
		return
	}

	now := d.now()
	d.logger.Debug("Beacon detected",
		zap.String("uuid", beacon.UUID),
		zap.Int("rssi", adv.RSSI),
		zap.String("source", adv.Source),
	)

	if ev, fired := d.tracker.Observe(beacon.UUID, adv.RSSI, now); fired {
		d.record(ctx, ev, true)
	}
}

// SweepOnce 执行一次超时检查并记录产生的事件
func (d *Detector) SweepOnce(ctx context.Context, now time.Time) []tracker.PassageEvent {
	events := d.tracker.Sweep(now)
	for _, ev := range events {
		d.record(ctx, ev, false)
	}
	return events
}

func (d *Detector) record(ctx context.Context, ev tracker.PassageEvent, fromDrop bool) {
	rec := models.PassageRecord{
		EventID:   d.newID(),
		Timestamp: ev.Timestamp,
		ScannerID: d.opts.ScannerID,
		UUID:      ev.UUID,
		PeakRSSI:  ev.PeakRSSI,
		Policy:    string(d.tracker.Config().Policy),
	}

	if err := d.recorder.Record(ctx, rec); err != nil {
		d.metrics.incrementRecordFailures()
		d.logger.Error("Passage not fully recorded",
			zap.String("uuid", rec.UUID),
			zap.Error(err),
		)
	}

	total := d.metrics.incrementPassages(fromDrop, ev.Timestamp)
	d.logger.Info("Passage event",
		zap.String("timestamp", rec.FormattedTimestamp()),
		zap.String("scanner_id", rec.ScannerID),
		zap.String("uuid", rec.UUID),
		zap.Int("peak_rssi", rec.PeakRSSI),
		zap.Bool("drop_triggered", fromDrop),
		zap.Int64("total_passages", total),
	)
}

func (d *Detector) dropped() int64 {
	if d.opts.Dropped == nil {
		return 0
	}
	return d.opts.Dropped()
}

// reportMetrics 定期报告指标
func (d *Detector) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(d.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := d.metrics.GetSnapshot()
			d.logger.Info("Metrics report",
				zap.Int64("advertisements_received", snapshot.AdvertisementsReceived),
				zap.Int64("rejected_not_ibeacon", snapshot.RejectedNotIBeacon),
				zap.Int64("rejected_below_floor", snapshot.RejectedBelowFloor),
				zap.Int64("rejected_prefix", snapshot.RejectedPrefix),
				zap.Int64("observations", snapshot.Observations),
				zap.Int64("passages_recorded", snapshot.PassagesRecorded),
				zap.Int64("passages_from_drop", snapshot.PassagesFromDrop),
				zap.Int64("record_failures", snapshot.RecordFailures),
				zap.Int64("dropped", d.dropped()),
				zap.Int("tracked_beacons", d.tracker.Len()),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
