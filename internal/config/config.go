package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-beacon/internal/tracker"
	"wisefido-beacon/owl-common/config"
)

// Config 信标扫描服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 扫描器配置
	Scanner struct {
		ID         string // 设置位置 ID，如 "2F-A"
		Source     string // "ble"（本机蓝牙）或 "mqtt"（网关转发）
		BufferSize int    // 广播队列容量
	}

	// 检测参数
	Detection struct {
		Policy          string        // "timeout" 或 "peak-drop"
		MinRSSI         int           // dBm: 低于该值的广播直接丢弃（口袋衰减）
		MinPeakRSSI     int           // dBm: 峰值达到该值才记录通过事件
		Timeout         time.Duration // 该时间内未检测到即判定离开
		DropThreshold   int           // dB: peak-drop 策略的下降阈值
		UUIDPrefix      string        // 只接受该前缀的 UUID，空表示不过滤
		SweepInterval   time.Duration // 超时检查周期
		MetricsInterval time.Duration // 指标日志周期
	}

	// 输出配置
	Sink struct {
		CSVPath       string // 通过事件 CSV
		Postgres      bool
		Redis         bool
		MQTT          bool
		WebhookURL    string
		PassageStream string // Redis Stream 名称
		StreamMaxLen  int64
		PassageTopic  string // MQTT 主题模板，%s 为扫描器 ID
	}

	// 网关配置
	Gateway struct {
		AdvertisementTopic string // 如 "beacon/+/adv"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-beacon")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Scanner.ID = getEnv("SCANNER_ID", "2F-A")
	cfg.Scanner.Source = getEnv("BEACON_SOURCE", "ble")
	cfg.Scanner.BufferSize = getEnvInt("BLE_ADAPTER_BUFFER", 256)

	cfg.Detection.Policy = getEnv("BEACON_POLICY", string(tracker.PolicyTimeout))
	cfg.Detection.MinRSSI = getEnvInt("BEACON_MIN_RSSI", -85)
	cfg.Detection.MinPeakRSSI = getEnvInt("BEACON_MIN_PEAK_RSSI", -80)
	// 500ms 广播间隔下 10 秒 = 连续丢失 20 个包
	cfg.Detection.Timeout = getEnvDuration("BEACON_TIMEOUT", 10*time.Second)
	cfg.Detection.DropThreshold = getEnvInt("BEACON_DROP_THRESHOLD", 10)
	cfg.Detection.UUIDPrefix = getEnvAllowEmpty("BEACON_UUID_PREFIX", "ffb00000")
	cfg.Detection.SweepInterval = getEnvDuration("BEACON_SWEEP_INTERVAL", time.Second)
	cfg.Detection.MetricsInterval = getEnvDuration("METRICS_REPORT_INTERVAL", 60*time.Second)

	cfg.Sink.CSVPath = getEnv("EVENTS_CSV", "events.csv")
	cfg.Sink.Postgres = getEnvBool("SINK_POSTGRES", false)
	cfg.Sink.Redis = getEnvBool("SINK_REDIS", false)
	cfg.Sink.MQTT = getEnvBool("SINK_MQTT", false)
	cfg.Sink.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.Sink.PassageStream = getEnv("REDIS_PASSAGE_STREAM", "beacon:passage:stream")
	cfg.Sink.StreamMaxLen = int64(getEnvInt("REDIS_PASSAGE_MAXLEN", 100000))
	cfg.Sink.PassageTopic = getEnv("MQTT_PASSAGE_TOPIC", "beacon/%s/passage")

	cfg.Gateway.AdvertisementTopic = getEnv("MQTT_ADV_TOPIC", "beacon/+/adv")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Scanner.ID == "" {
		return fmt.Errorf("SCANNER_ID is required")
	}
	switch c.Scanner.Source {
	case "ble", "mqtt":
	default:
		return fmt.Errorf("unknown BEACON_SOURCE: %q", c.Scanner.Source)
	}
	if c.Scanner.BufferSize <= 0 {
		return fmt.Errorf("BLE_ADAPTER_BUFFER must be positive, got %d", c.Scanner.BufferSize)
	}
	if c.Detection.SweepInterval <= 0 {
		return fmt.Errorf("BEACON_SWEEP_INTERVAL must be positive, got %s", c.Detection.SweepInterval)
	}
	if c.Detection.SweepInterval > c.Detection.Timeout {
		return fmt.Errorf("BEACON_SWEEP_INTERVAL (%s) must not exceed BEACON_TIMEOUT (%s)",
			c.Detection.SweepInterval, c.Detection.Timeout)
	}
	if c.Sink.CSVPath == "" {
		return fmt.Errorf("EVENTS_CSV is required")
	}
	// 模板中只允许一个 %s（扫描器 ID）
	if strings.Count(c.Sink.PassageTopic, "%") != 1 || strings.Count(c.Sink.PassageTopic, "%s") != 1 {
		return fmt.Errorf("MQTT_PASSAGE_TOPIC must contain exactly one %%s, got %q", c.Sink.PassageTopic)
	}
	if _, err := c.TrackerConfig(); err != nil {
		return err
	}
	return nil
}

// TrackerConfig 生成追踪器的不可变配置
func (c *Config) TrackerConfig() (tracker.Config, error) {
	policy, err := tracker.ParsePolicy(c.Detection.Policy)
	if err != nil {
		return tracker.Config{}, err
	}
	tc := tracker.Config{
		Policy:        policy,
		MinPeakRSSI:   c.Detection.MinPeakRSSI,
		Timeout:       c.Detection.Timeout,
		DropThreshold: c.Detection.DropThreshold,
	}
	if err := tc.Validate(); err != nil {
		return tracker.Config{}, err
	}
	return tc, nil
}

// PassageTopicFor 当前扫描器的通过事件 MQTT 主题
func (c *Config) PassageTopicFor() string {
	return fmt.Sprintf(c.Sink.PassageTopic, c.Scanner.ID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty 显式设置为空字符串时返回空
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration 支持 "10s" 形式，纯数字按秒解析
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
