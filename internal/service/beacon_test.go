package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/ibeacon"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/recorder"
)

// fakeSource 发送固定广播后阻塞到 ctx 取消
type fakeSource struct {
	adverts []models.Advertisement
	stopped atomic.Bool
}

func (f *fakeSource) Run(ctx context.Context, out chan<- models.Advertisement) error {
	for _, adv := range f.adverts {
		out <- adv
	}
	<-ctx.Done()
	f.stopped.Store(true)
	return nil
}

func (f *fakeSource) Dropped() int64 { return 0 }

// failingSource 模拟适配器不可用
type failingSource struct{}

func (failingSource) Run(context.Context, chan<- models.Advertisement) error {
	return errors.New("adapter not available")
}

func (failingSource) Dropped() int64 { return 0 }

func testConfig(csvPath string) *config.Config {
	cfg := &config.Config{}
	cfg.Scanner.ID = "2F-A"
	cfg.Scanner.Source = "ble"
	cfg.Scanner.BufferSize = 8
	cfg.Detection.Policy = "timeout"
	cfg.Detection.MinRSSI = -85
	cfg.Detection.MinPeakRSSI = -80
	cfg.Detection.Timeout = 50 * time.Millisecond
	cfg.Detection.DropThreshold = 10
	cfg.Detection.UUIDPrefix = "ffb00000"
	cfg.Detection.SweepInterval = 10 * time.Millisecond
	cfg.Sink.CSVPath = csvPath
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, src advertisementSource) *BeaconService {
	t.Helper()
	s := &BeaconService{
		config: cfg,
		logger: zap.NewNop(),
		advCh:  make(chan models.Advertisement, cfg.Scanner.BufferSize),
		source: src,
	}
	require.NoError(t, s.assemble([]recorder.Named{{Name: "csv", Recorder: recorder.NewCSVRecorder(cfg.Sink.CSVPath)}}))
	return s
}

func TestBeaconService_RecordsPassageToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	cfg := testConfig(path)

	payload, err := ibeacon.Encode(ibeacon.Beacon{UUID: "ffb00000-0000-0000-0000-0000000000aa", TxPower: -59})
	require.NoError(t, err)
	src := &fakeSource{adverts: []models.Advertisement{
		{ManufacturerData: map[uint16][]byte{ibeacon.AppleCompanyID: payload}, RSSI: -75, Source: "ble"},
		{ManufacturerData: map[uint16][]byte{ibeacon.AppleCompanyID: payload}, RSSI: -64, Source: "ble"},
	}}
	s := newTestService(t, cfg, src)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		return s.Detector().Metrics().GetSnapshot().PassagesRecorded == 1
	}, 3*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.True(t, src.stopped.Load())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,scanner_id,uuid,rssi", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",2F-A,ffb00000-0000-0000-0000-0000000000aa,-64"), lines[1])
}

func TestBeaconService_StopWithoutStart(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "events.csv"))
	s := newTestService(t, cfg, &fakeSource{})
	assert.NoError(t, s.Stop(context.Background()))
}

func TestBeaconService_InvalidDetectionConfig(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "events.csv"))
	cfg.Detection.Policy = "loudest"
	s := &BeaconService{config: cfg, logger: zap.NewNop(), source: &fakeSource{}}
	assert.Error(t, s.assemble(nil))
}

func TestBeaconService_SourceFailureEndsPipeline(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "events.csv"))
	s := newTestService(t, cfg, failingSource{})

	assert.Nil(t, s.Done())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline kept running after source failure")
	}
	err := s.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter not available")

	require.NoError(t, s.Stop(context.Background()))
}

func TestBeaconService_ErrNilAfterCleanStop(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "events.csv"))
	s := newTestService(t, cfg, &fakeSource{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	<-s.Done()
	assert.NoError(t, s.Err())
}
