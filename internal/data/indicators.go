package data

import (
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/pkg/ta"
	"fmt"
)

// compositeSlopeWeight 综合评分中斜率的权重
const compositeSlopeWeight = 5

func categorize(slope float64) ta.SlopeCategory {
	return ta.CategorizeSlope(slope)
}

// ComputeInstrument 由行情数据计算单个交易对的指标快照。
// 所有价格类指标都除以当前价，便于不同价格量级的交易对横向比较
func ComputeInstrument(prod model.Product, stats model.Stats, price float64, candles []model.Candle, period int) (model.InstrumentSnapshot, error) {
	if price <= 0 {
		return model.InstrumentSnapshot{}, fmt.Errorf("non-positive price %v", price)
	}
	if len(candles) < 2 {
		return model.InstrumentSnapshot{}, fmt.Errorf("got %d candles: %w", len(candles), ta.ErrInsufficientData)
	}
	if period < 1 {
		period = 1
	}

	var change float64
	if stats.Open > 0 {
		change = (price - stats.Open) / stats.Open
	}

	closes := ta.Closes(candles)
	sigma, err := ta.Volatility(closes)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}
	slope, err := ta.LinearRegressionSlope(closes)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}
	// 短窗口至少 2 个点才能回归
	shortSlope, err := ta.LinearRegressionSlope(tail(closes, max(period, 2)))
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}

	vwap, err := ta.VWAP(candles)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}
	shortVWAP, err := ta.VWAP(tail(candles, period))
	if err != nil {
		// 最近几根没有成交量，退回长窗口
		shortVWAP = vwap
	}
	relVol, err := ta.RelativeVolume(candles, period)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}
	rsi, err := ta.RSI(candles)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}

	relativeVWAP := (price - vwap) / vwap
	relativeSlope := slope / price

	return model.InstrumentSnapshot{
		ID:             prod.ID,
		BaseCurrency:   baseOf(prod),
		Price:          price,
		Min:            prod.BaseMinSize,
		Increment:      prod.BaseIncrement,
		QuoteIncrement: prod.QuoteIncrement,
		Change:         change,
		Volatility:     sigma / price,
		VWAP:           relativeVWAP,
		ShortVWAP:      (price - shortVWAP) / shortVWAP,
		Slope:          relativeSlope,
		ShortSlope:     shortSlope / price,
		SlopeCategory:  int(categorize(relativeSlope)),
		RelativeVolume: relVol,
		RSI:            rsi,
		CompositeScore: relativeVWAP - compositeSlopeWeight*relativeSlope,
	}, nil
}

func tail[T any](s []T, n int) []T {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
