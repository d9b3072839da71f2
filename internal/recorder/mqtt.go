package recorder

import (
	"context"
	"encoding/json"

	"wisefido-beacon/internal/models"
)

// Publisher MQTT 发布能力（*mqttcommon.Client 满足该接口）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTRecorder 将通过事件发布到 MQTT 主题
type MQTTRecorder struct {
	client Publisher
	topic  string
	qos    byte
}

// NewMQTTRecorder 创建 MQTT 输出
func NewMQTTRecorder(client Publisher, topic string, qos byte) *MQTTRecorder {
	return &MQTTRecorder{client: client, topic: topic, qos: qos}
}

// Record 发布 JSON
func (r *MQTTRecorder) Record(_ context.Context, rec models.PassageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Publish(r.topic, r.qos, false, payload)
}
