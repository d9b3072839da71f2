package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/bluetooth"

	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/consumer"
	"wisefido-beacon/internal/detector"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/recorder"
	"wisefido-beacon/internal/repository"
	"wisefido-beacon/internal/scanner"
	"wisefido-beacon/internal/tracker"
	"wisefido-beacon/owl-common/database"
	mqttcommon "wisefido-beacon/owl-common/mqtt"
	rediscommon "wisefido-beacon/owl-common/redis"
)

// advertisementSource 广播来源：本机蓝牙或 MQTT 网关
type advertisementSource interface {
	Run(ctx context.Context, out chan<- models.Advertisement) error
	Dropped() int64
}

// gatewaySource 将 MQTTConsumer 适配为广播来源
type gatewaySource struct {
	*consumer.MQTTConsumer
}

func (g gatewaySource) Run(ctx context.Context, _ chan<- models.Advertisement) error {
	return g.Start(ctx)
}

// BeaconService 信标扫描服务
type BeaconService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	repo       *repository.PassageRepository
	consumer   *consumer.MQTTConsumer

	advCh    chan models.Advertisement
	source   advertisementSource
	recorder *recorder.MultiRecorder
	writer   *recorder.AsyncRecorder
	detector *detector.Detector

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewBeaconService 创建信标扫描服务
func NewBeaconService(cfg *config.Config, logger *zap.Logger) (*BeaconService, error) {
	s := &BeaconService{
		config: cfg,
		logger: logger,
		advCh:  make(chan models.Advertisement, cfg.Scanner.BufferSize),
	}

	sinks, err := s.initSinks()
	if err != nil {
		s.closeResources()
		return nil, err
	}

	switch cfg.Scanner.Source {
	case "mqtt":
		if err := s.ensureMQTT(); err != nil {
			s.closeResources()
			return nil, err
		}
		s.consumer = consumer.NewMQTTConsumer(cfg.Gateway.AdvertisementTopic, cfg.MQTT.QoS, s.mqttClient, s.advCh, logger)
		s.source = gatewaySource{s.consumer}
	default:
		s.source = scanner.NewBLESource(bluetooth.DefaultAdapter, logger)
	}

	if err := s.assemble(sinks); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// assemble 创建追踪器和检测器
func (s *BeaconService) assemble(sinks []recorder.Named) error {
	tc, err := s.config.TrackerConfig()
	if err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}
	t, err := tracker.New(tc)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	s.recorder = recorder.NewMultiRecorder(s.logger, sinks...)
	// 输出在独立 goroutine 中写入，慢输出不阻塞广播消费和超时检查
	s.writer = recorder.NewAsyncRecorder(s.recorder, s.config.Scanner.BufferSize, s.logger)
	filter := scanner.Filter{
		MinRSSI:    s.config.Detection.MinRSSI,
		UUIDPrefix: s.config.Detection.UUIDPrefix,
	}
	s.detector = detector.New(detector.Options{
		ScannerID:       s.config.Scanner.ID,
		SweepInterval:   s.config.Detection.SweepInterval,
		MetricsInterval: s.config.Detection.MetricsInterval,
		Dropped:         s.source.Dropped,
	}, filter, t, s.writer, s.logger)
	return nil
}

// initSinks 按配置初始化输出，CSV 始终启用
func (s *BeaconService) initSinks() ([]recorder.Named, error) {
	cfg := s.config
	sinks := []recorder.Named{{Name: "csv", Recorder: recorder.NewCSVRecorder(cfg.Sink.CSVPath)}}

	if cfg.Sink.Postgres {
		db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.repo = repository.NewPassageRepository(db, s.logger)
		if err := s.repo.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		sinks = append(sinks, recorder.Named{Name: "postgres", Recorder: recorder.NewPostgresRecorder(s.repo)})
	}

	if cfg.Sink.Redis {
		redisClient := rediscommon.NewRedisClient(&cfg.Redis)
		s.redis = redisClient
		if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sinks = append(sinks, recorder.Named{
			Name:     "redis",
			Recorder: recorder.NewRedisStreamRecorder(redisClient, cfg.Sink.PassageStream, cfg.Sink.StreamMaxLen),
		})
	}

	if cfg.Sink.MQTT {
		if err := s.ensureMQTT(); err != nil {
			return nil, err
		}
		sinks = append(sinks, recorder.Named{
			Name:     "mqtt",
			Recorder: recorder.NewMQTTRecorder(s.mqttClient, cfg.PassageTopicFor(), cfg.MQTT.QoS),
		})
	}

	if cfg.Sink.WebhookURL != "" {
		sinks = append(sinks, recorder.Named{Name: "webhook", Recorder: recorder.NewWebhookRecorder(cfg.Sink.WebhookURL)})
	}
	return sinks, nil
}

// ensureMQTT 网关来源和 MQTT 输出共用一个连接
func (s *BeaconService) ensureMQTT() error {
	if s.mqttClient != nil {
		return nil
	}
	client, err := mqttcommon.NewClient(&s.config.MQTT, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	s.mqttClient = client
	return nil
}

// Detector 返回检测器
func (s *BeaconService) Detector() *detector.Detector {
	return s.detector
}

// Start 启动服务，广播源和检测器在后台运行
func (s *BeaconService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("beacon service already started")
	}

	s.logStartup(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := s.source.Run(gctx, s.advCh); err != nil {
			return fmt.Errorf("advertisement source failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.detector.Run(gctx, s.advCh)
	})

	// 写入 goroutine 在检测器退出后才停止，保证已产生的事件全部写出
	writerCtx, writerCancel := context.WithCancel(context.WithoutCancel(ctx))
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writer.Run(writerCtx)
	}()

	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	go func() {
		err := g.Wait()
		if err != nil {
			s.logger.Error("Beacon pipeline stopped with error", zap.Error(err))
		}
		writerCancel()
		<-writerDone

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("Beacon service started successfully")
	return nil
}

// Done 流水线退出时关闭（包括广播源失败）；未启动时返回 nil
func (s *BeaconService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err 流水线退出的原因，仍在运行或正常停止时为 nil
func (s *BeaconService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// logStartup 启动时输出全部检测参数
func (s *BeaconService) logStartup(ctx context.Context) {
	cfg := s.config
	s.logger.Info("Beacon scanner configuration",
		zap.String("scanner_id", cfg.Scanner.ID),
		zap.String("source", cfg.Scanner.Source),
		zap.String("policy", cfg.Detection.Policy),
		zap.Int("min_rssi", cfg.Detection.MinRSSI),
		zap.Int("min_peak_rssi", cfg.Detection.MinPeakRSSI),
		zap.Duration("timeout", cfg.Detection.Timeout),
		zap.Int("drop_threshold", cfg.Detection.DropThreshold),
		zap.String("uuid_prefix", cfg.Detection.UUIDPrefix),
		zap.Duration("sweep_interval", cfg.Detection.SweepInterval),
		zap.String("events_csv", cfg.Sink.CSVPath),
		zap.Strings("sinks", s.recorder.Sinks()),
	)
	if cfg.Detection.MinPeakRSSI < cfg.Detection.MinRSSI {
		s.logger.Warn("Minimum peak RSSI is below the admission floor; every admitted beacon qualifies",
			zap.Int("min_rssi", cfg.Detection.MinRSSI),
			zap.Int("min_peak_rssi", cfg.Detection.MinPeakRSSI),
		)
	}

	if s.repo != nil {
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		count, err := s.repo.CountSince(ctx, cfg.Scanner.ID, midnight)
		if err != nil {
			s.logger.Warn("Failed to count today's passages", zap.Error(err))
			return
		}
		s.logger.Info("Passages recorded today", zap.Int64("count", count))
	}
}

// Stop 停止服务
func (s *BeaconService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping beacon service")

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for beacon pipeline", zap.Error(ctx.Err()))
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}

	s.closeResources()

	snapshot := s.detector.Metrics().GetSnapshot()
	s.logger.Info("Beacon service stopped",
		zap.Int64("passages_recorded", snapshot.PassagesRecorded),
		zap.Int64("passages_written", s.writer.Written()),
		zap.Int64("passages_failed", s.writer.Failed()),
		zap.Int64("advertisements_received", snapshot.AdvertisementsReceived),
	)
	return nil
}

func (s *BeaconService) closeResources() {
	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
		s.mqttClient = nil
	}

	// 关闭Redis
	if s.redis != nil {
		if err := rediscommon.Close(s.redis); err != nil {
			s.logger.Warn("Failed to close redis", zap.Error(err))
		}
		s.redis = nil
	}

	// 关闭数据库
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Warn("Failed to close database", zap.Error(err))
		}
		s.db = nil
	}
}
