package scanner

import "wisefido-beacon/internal/ibeacon"

// Verdict 准入判定结果
type Verdict int

const (
	Admitted Verdict = iota
	NotIBeacon
	BelowFloor
	PrefixMismatch
)

func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case NotIBeacon:
		return "not_ibeacon"
	case BelowFloor:
		return "below_floor"
	case PrefixMismatch:
		return "prefix_mismatch"
	default:
		return "unknown"
	}
}

// Filter 广播准入过滤：最低瞬时 RSSI 和 UUID 前缀
type Filter struct {
	MinRSSI    int
	UUIDPrefix string
}

// Admit 解码并判断是否进入追踪器
func (f Filter) Admit(manufacturerData map[uint16][]byte, rssi int) (ibeacon.Beacon, Verdict) {
	beacon, ok := ibeacon.Decode(manufacturerData)
	if !ok {
		return ibeacon.Beacon{}, NotIBeacon
	}
	if rssi < f.MinRSSI {
		return beacon, BelowFloor
	}
	if !ibeacon.HasPrefix(beacon.UUID, f.UUIDPrefix) {
		return beacon, PrefixMismatch
	}
	return beacon, Admitted
}
