package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// StringToFloat 宽松解析交易所返回的数字字段，空串按 0 处理
func StringToFloat(v any) (float64, error) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return cast.ToFloat64E(v)
}

// 将 time.Duration 格式化为周期字符串，如 "1m", "5m", "1h"
func FormatInterval(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return d.String()
}

// 将周期字符串解析为 time.Duration
// 例如 "1m" -> 1*time.Minute，不带单位的纯数字按分钟处理："10" -> 10*time.Minute
func ParseIntervalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid interval format: %q", s)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", s)
	}

	unit := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	var unitDuration time.Duration
	switch unit {
	case "s":
		unitDuration = time.Second
	case "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid interval value: %s", valueStr)
	}
	return time.Duration(value) * unitDuration, nil
}

// IntervalMinutes 周期折算成整分钟，不足一分钟按 1 分钟
func IntervalMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
