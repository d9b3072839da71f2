package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-beacon/internal/ibeacon"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/recorder"
	"wisefido-beacon/internal/scanner"
	"wisefido-beacon/internal/tracker"
)

const testUUID = "ffb00000-0000-0000-0000-000000000001"

type captureRecorder struct {
	mu      sync.Mutex
	records []models.PassageRecord
	err     error
}

func (c *captureRecorder) Record(_ context.Context, rec models.PassageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return c.err
}

func (c *captureRecorder) all() []models.PassageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PassageRecord, len(c.records))
	copy(out, c.records)
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestDetector(t *testing.T, cfg tracker.Config) (*Detector, *captureRecorder, *fakeClock) {
	t.Helper()
	tr, err := tracker.New(cfg)
	require.NoError(t, err)

	rec := &captureRecorder{}
	clock := &fakeClock{t: time.Date(2024, 4, 1, 9, 0, 0, 0, time.Local)}
	d := New(Options{ScannerID: "2F-A", SweepInterval: time.Second},
		scanner.Filter{MinRSSI: -85, UUIDPrefix: "ffb00000"}, tr, rec, zap.NewNop())
	d.now = clock.Now
	seq := 0
	d.newID = func() string {
		seq++
		return fmt.Sprintf("evt-%d", seq)
	}
	return d, rec, clock
}

func advert(t *testing.T, uuid string, rssi int) models.Advertisement {
	t.Helper()
	payload, err := ibeacon.Encode(ibeacon.Beacon{UUID: uuid, Major: 1, Minor: 1, TxPower: -59})
	require.NoError(t, err)
	return models.Advertisement{
		Address:          "AA:BB:CC:DD:EE:FF",
		ManufacturerData: map[uint16][]byte{ibeacon.AppleCompanyID: payload},
		RSSI:             rssi,
		Source:           "ble",
	}
}

func TestDetector_TimeoutPassage(t *testing.T) {
	d, rec, clock := newTestDetector(t, tracker.DefaultConfig())
	ctx := context.Background()

	for _, rssi := range []int{-84, -78, -72, -80} {
		d.HandleAdvertisement(ctx, advert(t, testUUID, rssi))
		clock.Advance(time.Second)
	}
	// 最后一次观测在 +3s
	assert.Empty(t, d.SweepOnce(ctx, clock.Now()))

	clock.Advance(9 * time.Second)
	events := d.SweepOnce(ctx, clock.Now())
	require.Len(t, events, 1)
	assert.Equal(t, -72, events[0].PeakRSSI)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].EventID)
	assert.Equal(t, "2F-A", records[0].ScannerID)
	assert.Equal(t, testUUID, records[0].UUID)
	assert.Equal(t, -72, records[0].PeakRSSI)
	assert.Equal(t, "timeout", records[0].Policy)
	assert.Equal(t, clock.Now(), records[0].Timestamp)

	snap := d.Metrics().GetSnapshot()
	assert.Equal(t, int64(4), snap.AdvertisementsReceived)
	assert.Equal(t, int64(4), snap.Observations)
	assert.Equal(t, int64(1), snap.PassagesRecorded)
	assert.Equal(t, 0, d.Tracker().Len())
}

func TestDetector_WeakPassageNotRecorded(t *testing.T) {
	d, rec, clock := newTestDetector(t, tracker.DefaultConfig())
	ctx := context.Background()

	d.HandleAdvertisement(ctx, advert(t, testUUID, -84))
	d.HandleAdvertisement(ctx, advert(t, testUUID, -82))
	clock.Advance(10 * time.Second)

	assert.Empty(t, d.SweepOnce(ctx, clock.Now()))
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, d.Tracker().Len())
}

func TestDetector_RejectionsCounted(t *testing.T) {
	d, rec, _ := newTestDetector(t, tracker.DefaultConfig())
	ctx := context.Background()

	d.HandleAdvertisement(ctx, models.Advertisement{ManufacturerData: map[uint16][]byte{0x0059: {0x01, 0x02}}, RSSI: -50})
	d.HandleAdvertisement(ctx, advert(t, testUUID, -90))
	d.HandleAdvertisement(ctx, advert(t, "e2c56db5-dffb-48d2-b060-d0f5a71096e0", -50))

	snap := d.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snap.AdvertisementsReceived)
	assert.Equal(t, int64(1), snap.RejectedNotIBeacon)
	assert.Equal(t, int64(1), snap.RejectedBelowFloor)
	assert.Equal(t, int64(1), snap.RejectedPrefix)
	assert.Equal(t, int64(0), snap.Observations)
	assert.Equal(t, 0, d.Tracker().Len())
	assert.Empty(t, rec.all())
}

func TestDetector_PeakDropRecordsImmediately(t *testing.T) {
	cfg := tracker.Config{Policy: tracker.PolicyPeakDrop, MinPeakRSSI: -70, Timeout: 8 * time.Second, DropThreshold: 10}
	d, rec, clock := newTestDetector(t, cfg)
	ctx := context.Background()

	d.HandleAdvertisement(ctx, advert(t, testUUID, -75))
	clock.Advance(time.Second)
	d.HandleAdvertisement(ctx, advert(t, testUUID, -60))
	clock.Advance(time.Second)
	d.HandleAdvertisement(ctx, advert(t, testUUID, -69))
	assert.Empty(t, rec.all())

	clock.Advance(time.Second)
	d.HandleAdvertisement(ctx, advert(t, testUUID, -70))

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, -60, records[0].PeakRSSI)
	assert.Equal(t, "peak-drop", records[0].Policy)

	// 已触发的记录超时后不再重复记录
	clock.Advance(8 * time.Second)
	assert.Empty(t, d.SweepOnce(ctx, clock.Now()))
	assert.Len(t, rec.all(), 1)

	snap := d.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snap.PassagesRecorded)
	assert.Equal(t, int64(1), snap.PassagesFromDrop)
}

func TestDetector_RecorderFailureDoesNotStopDetection(t *testing.T) {
	d, rec, clock := newTestDetector(t, tracker.DefaultConfig())
	rec.err = errors.New("disk full")
	ctx := context.Background()

	d.HandleAdvertisement(ctx, advert(t, testUUID, -60))
	clock.Advance(10 * time.Second)
	require.Len(t, d.SweepOnce(ctx, clock.Now()), 1)

	d.HandleAdvertisement(ctx, advert(t, testUUID, -65))
	clock.Advance(10 * time.Second)
	require.Len(t, d.SweepOnce(ctx, clock.Now()), 1)

	assert.Len(t, rec.all(), 2)
	snap := d.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snap.RecordFailures)
	assert.Equal(t, int64(2), snap.PassagesRecorded)
}

func TestDetector_RunStopsOnClosedChannel(t *testing.T) {
	d, _, _ := newTestDetector(t, tracker.DefaultConfig())
	in := make(chan models.Advertisement, 4)
	in <- advert(t, testUUID, -70)
	in <- advert(t, testUUID, -65)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, in) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
	assert.Equal(t, int64(2), d.Metrics().GetSnapshot().AdvertisementsReceived)
}

func TestDetector_RunSweepsOnTicker(t *testing.T) {
	d, rec, clock := newTestDetector(t, tracker.DefaultConfig())
	d.opts.SweepInterval = 10 * time.Millisecond
	d.opts.MetricsInterval = 10 * time.Millisecond
	d.opts.Dropped = func() int64 { return 3 }

	in := make(chan models.Advertisement)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, in) }()

	in <- advert(t, testUUID, -62)
	require.Eventually(t, func() bool {
		return d.Metrics().GetSnapshot().Observations == 1
	}, 2*time.Second, 10*time.Millisecond)
	clock.Advance(11 * time.Second)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, -62, rec.all()[0].PeakRSSI)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int64(3), d.dropped())
}

func TestDetector_SlowSinkDoesNotStallConsumption(t *testing.T) {
	cfg := tracker.Config{Policy: tracker.PolicyPeakDrop, MinPeakRSSI: -70, Timeout: 8 * time.Second, DropThreshold: 10}
	tr, err := tracker.New(cfg)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	slow := recorderFunc(func(context.Context, models.PassageRecord) error {
		<-release
		return nil
	})
	writer := recorder.NewAsyncRecorder(slow, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go writer.Run(ctx)

	d := New(Options{ScannerID: "2F-A", SweepInterval: time.Second},
		scanner.Filter{MinRSSI: -85, UUIDPrefix: "ffb00000"}, tr, writer, zap.NewNop())
	clock := &fakeClock{t: time.Date(2024, 4, 1, 9, 0, 0, 0, time.Local)}
	d.now = clock.Now

	d.HandleAdvertisement(ctx, advert(t, testUUID, -60))
	clock.Advance(time.Second)

	// 峰值下降触发写入，下游阻塞时消费仍立即返回
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		d.HandleAdvertisement(ctx, advert(t, testUUID, -72))
		clock.Advance(time.Second)
		d.HandleAdvertisement(ctx, advert(t, testUUID, -74))
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("advertisement handling blocked on a slow sink")
	}

	assert.Equal(t, int64(1), d.Metrics().GetSnapshot().PassagesFromDrop)
	snap, ok := d.Tracker().Lookup(testUUID)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), snap.LastSeen)
	assert.Empty(t, d.SweepOnce(ctx, clock.Now().Add(7*time.Second)))
}

type recorderFunc func(ctx context.Context, rec models.PassageRecord) error

func (f recorderFunc) Record(ctx context.Context, rec models.PassageRecord) error {
	return f(ctx, rec)
}
