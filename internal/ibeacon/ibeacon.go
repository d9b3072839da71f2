package ibeacon

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// iBeacon 厂商数据格式（Company ID 0x004C 之后的负载）:
//
//	[0]     0x02  类型
//	[1]     0x15  剩余长度（21）
//	[2:18]  UUID  16 bytes
//	[18:20] Major 2 bytes, big-endian
//	[20:22] Minor 2 bytes, big-endian
//	[22]    TX Power（1m 处校准 RSSI，有符号）
const (
	AppleCompanyID uint16 = 0x004C

	typeByte   byte = 0x02
	lengthByte byte = 0x15

	payloadLen = 23
)

// Beacon 解析后的 iBeacon 身份
type Beacon struct {
	UUID    string // 小写、带连字符的标准 UUID 文本
	Major   uint16
	Minor   uint16
	TxPower int8
}

// Decode 从厂商数据中提取 iBeacon 身份。
// 非 iBeacon（厂商不符、长度不足、类型标记不符）返回 ok=false，从不 panic。
func Decode(manufacturerData map[uint16][]byte) (Beacon, bool) {
	data, found := manufacturerData[AppleCompanyID]
	if !found {
		return Beacon{}, false
	}
	return DecodePayload(data)
}

// DecodePayload 解析 0x004C 厂商数据负载本身
func DecodePayload(data []byte) (Beacon, bool) {
	if len(data) < payloadLen {
		return Beacon{}, false
	}
	if data[0] != typeByte || data[1] != lengthByte {
		return Beacon{}, false
	}

	var id uuid.UUID
	copy(id[:], data[2:18])

	return Beacon{
		UUID:    id.String(),
		Major:   binary.BigEndian.Uint16(data[18:20]),
		Minor:   binary.BigEndian.Uint16(data[20:22]),
		TxPower: int8(data[22]),
	}, true
}

// HasPrefix 判断 UUID 是否以指定前缀开头（忽略大小写）。空前缀视为全部匹配。
func HasPrefix(beaconUUID, prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(beaconUUID), strings.ToLower(prefix))
}

// Encode 按 iBeacon 布局生成 0x004C 厂商数据负载（用于网关模拟和测试夹具）
func Encode(b Beacon) ([]byte, error) {
	id, err := uuid.Parse(b.UUID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, payloadLen)
	out[0] = typeByte
	out[1] = lengthByte
	copy(out[2:18], id[:])
	binary.BigEndian.PutUint16(out[18:20], b.Major)
	binary.BigEndian.PutUint16(out[20:22], b.Minor)
	out[22] = byte(b.TxPower)
	return out, nil
}
