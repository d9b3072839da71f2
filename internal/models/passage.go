package models

import "time"

// TimestampLayout 事件记录中的时间格式
const TimestampLayout = "2006-01-02 15:04:05"

// PassageRecord 持久化的通过事件
type PassageRecord struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	ScannerID string    `json:"scanner_id"`
	UUID      string    `json:"uuid"`
	PeakRSSI  int       `json:"rssi"`
	Policy    string    `json:"policy"`
}

// FormattedTimestamp 本地时间格式化的时间戳
func (r PassageRecord) FormattedTimestamp() string {
	return r.Timestamp.Format(TimestampLayout)
}
