package strategy

import (
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/service"
	"fmt"
	"math"
)

// Kind 可选的选币策略，封闭枚举。新增策略时同时补全 Eligible 和 Metric 两个 switch
type Kind string

const (
	KindCompositeScore Kind = "compositeScore" // VWAP 上限 + 斜率下限
	KindVWAP           Kind = "vwap"
	KindSlope          Kind = "slope"
	KindChange         Kind = "change" // 24h 跌幅不超过 MinLoss，按跌幅从深到浅
	KindVolatility     Kind = "volatility"
	KindRelativeVolume Kind = "relativeVolume" // 放量 + 短期斜率为正
)

var kinds = []Kind{KindCompositeScore, KindVWAP, KindSlope, KindChange, KindVolatility, KindRelativeVolume}

// ParseKind 未知策略名返回错误
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Params 一轮循环内使用的选币阈值
type Params struct {
	Kind                   Kind
	MaxVWAP                float64
	MinSlope               float64
	MaxVolatility          float64
	MinLoss                float64
	MaxRSI                 float64
	MinRelVol              float64
	MinMarketSlopeCategory int
}

// ParamsFromConfig 从策略配置快照中提取选币参数
func ParamsFromConfig(cfg service.TradingConfig) (Params, error) {
	kind, err := ParseKind(cfg.Strategy)
	if err != nil {
		return Params{}, err
	}
	return Params{
		Kind:                   kind,
		MaxVWAP:                cfg.MaxVWAP,
		MinSlope:               cfg.MinSlope,
		MaxVolatility:          cfg.MaxVolatility,
		MinLoss:                cfg.MinLoss,
		MaxRSI:                 cfg.MaxRSI,
		MinRelVol:              cfg.MinRelVol,
		MinMarketSlopeCategory: cfg.MinMarketSlopeCategory,
	}, nil
}

// Eligible 策略专属过滤条件（不含 RSI 上限）
func (k Kind) Eligible(inst model.InstrumentSnapshot, p Params) bool {
	switch k {
	case KindCompositeScore:
		return inst.VWAP <= p.MaxVWAP && inst.Slope >= p.MinSlope
	case KindVWAP:
		return inst.VWAP <= p.MaxVWAP
	case KindSlope:
		return inst.Slope >= p.MinSlope
	case KindChange:
		return inst.Change >= p.MinLoss
	case KindVolatility:
		return math.Abs(inst.Volatility) <= p.MaxVolatility
	case KindRelativeVolume:
		return math.Abs(inst.RelativeVolume) > p.MinRelVol && inst.ShortSlope > 0
	}
	return false
}

// Metric 排序字段，升序即优先
func (k Kind) Metric(inst model.InstrumentSnapshot) float64 {
	switch k {
	case KindCompositeScore:
		return inst.CompositeScore
	case KindVWAP:
		return inst.VWAP
	case KindSlope:
		return inst.Slope
	case KindChange:
		return inst.Change
	case KindVolatility:
		return inst.Volatility
	case KindRelativeVolume:
		return inst.RelativeVolume
	}
	return 0
}
