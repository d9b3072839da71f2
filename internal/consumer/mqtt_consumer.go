package consumer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wisefido-beacon/internal/models"
	mqttcommon "wisefido-beacon/owl-common/mqtt"
)

// Subscriber MQTT 订阅能力（*mqttcommon.Client 满足该接口）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 接收 BLE 网关转发的广播
type MQTTConsumer struct {
	topic  string
	qos    byte
	client Subscriber
	out    chan<- models.Advertisement
	logger *zap.Logger
	now    func() time.Time

	dropped atomic.Int64
}

// NewMQTTConsumer 创建网关广播消费者
func NewMQTTConsumer(
	topic string,
	qos byte,
	client Subscriber,
	out chan<- models.Advertisement,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		topic:  topic,
		qos:    qos,
		client: client,
		out:    out,
		logger: logger,
		now:    time.Now,
	}
}

// Dropped 因队列已满而丢弃的广播数
func (c *MQTTConsumer) Dropped() int64 {
	return c.dropped.Load()
}

// Start 订阅广播主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.topic == "" {
		return fmt.Errorf("gateway advertisement topic not configured")
	}
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to advertisement topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped", zap.Int64("dropped", c.Dropped()))
	return nil
}

// handleMessage 处理网关消息
// 主题格式: beacon/{gateway_id}/adv
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	gatewayID := parts[1]

	adv, err := c.parseAdvertisement(gatewayID, payload)
	if err != nil {
		return err
	}

	select {
	case c.out <- adv:
	default:
		c.dropped.Add(1)
	}
	return nil
}

func (c *MQTTConsumer) parseAdvertisement(gatewayID string, payload []byte) (models.Advertisement, error) {
	var msg models.GatewayAdvertisement
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.Advertisement{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	data := make(map[uint16][]byte, len(msg.ManufacturerData))
	for key, value := range msg.ManufacturerData {
		companyID, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return models.Advertisement{}, fmt.Errorf("invalid company id %q: %w", key, err)
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			return models.Advertisement{}, fmt.Errorf("invalid manufacturer data for company %d: %w", companyID, err)
		}
		data[uint16(companyID)] = raw
	}

	receivedAt := c.now()
	if msg.Timestamp > 0 {
		receivedAt = time.Unix(msg.Timestamp, 0)
	}

	return models.Advertisement{
		Address:          msg.Address,
		ManufacturerData: data,
		RSSI:             msg.RSSI,
		ReceivedAt:       receivedAt,
		Source:           gatewayID,
	}, nil
}
