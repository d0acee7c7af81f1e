package strategy

import (
	"crypto-swing-trader/internal/model"
	"sort"
	"strings"
)

// Universe 允许交易的币种集合（市值排行前 N）。nil 表示不限制
type Universe map[string]struct{}

// NewUniverse 由排行结果构建集合
func NewUniverse(coins []model.TopCoin) Universe {
	u := make(Universe, len(coins))
	for _, c := range coins {
		u[strings.ToUpper(c.Symbol)] = struct{}{}
	}
	return u
}

func (u Universe) contains(symbol string) bool {
	if u == nil {
		return true
	}
	_, ok := u[strings.ToUpper(symbol)]
	return ok
}

// Select 过滤并排序候选交易对：
// 排行限制 -> RSI 上限 -> 策略条件 -> 按策略指标升序（稳定排序）。
// 大盘斜率档位低于下限时全部拒绝。没有候选时返回空切片
func Select(snap *model.MarketSnapshot, p Params, universe Universe) []model.InstrumentSnapshot {
	out := make([]model.InstrumentSnapshot, 0)
	if snap == nil || snap.MarketSlopeCategory < p.MinMarketSlopeCategory {
		return out
	}
	for _, inst := range snap.Instruments {
		if !universe.contains(baseSymbol(inst)) {
			continue
		}
		if inst.RSI > p.MaxRSI {
			continue
		}
		if !p.Kind.Eligible(inst, p) {
			continue
		}
		out = append(out, inst)
	}
	SortByMetric(out, p.Kind)
	return out
}

// SortByMetric 按策略指标原地升序稳定排序
func SortByMetric(instruments []model.InstrumentSnapshot, kind Kind) {
	sort.SliceStable(instruments, func(i, j int) bool {
		return kind.Metric(instruments[i]) < kind.Metric(instruments[j])
	})
}

func baseSymbol(inst model.InstrumentSnapshot) string {
	if inst.BaseCurrency != "" {
		return inst.BaseCurrency
	}
	if i := strings.IndexByte(inst.ID, '-'); i > 0 {
		return inst.ID[:i]
	}
	return inst.ID
}
