package models

import "time"

// Advertisement 一条 BLE 广播（本地射频或网关转发）
type Advertisement struct {
	Address          string            // 发送方地址（仅用于日志）
	ManufacturerData map[uint16][]byte // Company ID -> 厂商数据
	RSSI             int               // dBm
	ReceivedAt       time.Time
	Source           string // "ble" 或网关 ID
}

// GatewayAdvertisement 网关通过 MQTT 上报的广播（JSON）
//
// manufacturer_data 的键为十进制 Company ID，值为十六进制字符串，如 {"76": "0215..."}
type GatewayAdvertisement struct {
	Address          string            `json:"address"`
	RSSI             int               `json:"rssi"`
	ManufacturerData map[string]string `json:"manufacturer_data"`
	Timestamp        int64             `json:"timestamp"` // Unix 秒，0 表示使用接收时间
}
