package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"wisefido-beacon/internal/models"
)

// WebhookRecorder 以 HTTP POST 推送通过事件
type WebhookRecorder struct {
	httpClient *resty.Client
	url        string
}

// NewWebhookRecorder 创建 Webhook 输出
func NewWebhookRecorder(url string) *WebhookRecorder {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookRecorder{httpClient: client, url: url}
}

// Record POST 一条事件，非 2xx 视为失败
func (r *WebhookRecorder) Record(ctx context.Context, rec models.PassageRecord) error {
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(rec).
		Post(r.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
