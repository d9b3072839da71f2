package tracker

import (
	"fmt"
	"time"
)

// Policy 离开判定策略
type Policy string

const (
	// PolicyTimeout 仅靠静默超时判定离开（生产策略）
	PolicyTimeout Policy = "timeout"
	// PolicyPeakDrop 峰值后下降超过阈值立即判定，超时作为兜底
	PolicyPeakDrop Policy = "peak-drop"
)

// ParsePolicy 解析策略名称
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyTimeout, "":
		return PolicyTimeout, nil
	case PolicyPeakDrop:
		return PolicyPeakDrop, nil
	default:
		return "", fmt.Errorf("unknown tracker policy: %q", s)
	}
}

// Config 追踪器配置，创建后不可变
type Config struct {
	Policy        Policy
	MinPeakRSSI   int           // dBm: 峰值达到该值才记为通过
	Timeout       time.Duration // 静默超时
	DropThreshold int           // dB: 仅 PolicyPeakDrop 使用
}

// DefaultConfig 生产环境默认值
func DefaultConfig() Config {
	return Config{
		Policy:        PolicyTimeout,
		MinPeakRSSI:   -80,
		Timeout:       10 * time.Second,
		DropThreshold: 10,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Policy == PolicyPeakDrop && c.DropThreshold <= 0 {
		return fmt.Errorf("drop threshold must be positive for %s policy, got %d", PolicyPeakDrop, c.DropThreshold)
	}
	return nil
}
