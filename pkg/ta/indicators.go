package ta

import (
	"crypto-swing-trader/internal/model"
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

// ErrInsufficientData 输入序列为空或太短，无法计算指标
var ErrInsufficientData = errors.New("insufficient data")

const (
	// RSIWindow RSI 只看最近的 15 根 K 线
	RSIWindow = 15
	// SlopePrecision 回归斜率保留 8 位小数
	SlopePrecision = 8
)

// Round 四舍五入到 places 位小数
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Mean 算术平均
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("mean: %w", ErrInsufficientData)
	}
	sma := talib.Sma(values, len(values))
	return sma[len(sma)-1], nil
}

// Variance 总体方差 (除以 n)
func Variance(values []float64) (float64, error) {
	mean, err := Mean(values)
	if err != nil {
		return 0, fmt.Errorf("variance: %w", ErrInsufficientData)
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values)), nil
}

// Volatility 标准差，固定保留 2 位小数，调用方依赖这个精度做比较
func Volatility(values []float64) (float64, error) {
	variance, err := Variance(values)
	if err != nil {
		return 0, err
	}
	return Round(math.Sqrt(variance), 2), nil
}

// LinearRegressionSlope 对 (i+1, value) 做最小二乘回归，返回斜率
func LinearRegressionSlope(values []float64) (float64, error) {
	if len(values) < 2 {
		return 0, fmt.Errorf("linear regression needs at least 2 points, got %d: %w", len(values), ErrInsufficientData)
	}
	out := talib.LinearRegSlope(values, len(values))
	return Round(out[len(out)-1], SlopePrecision), nil
}

// VWAP 成交量加权均价，典型价取 (low+high+close)/3，保留 2 位小数
func VWAP(candles []model.Candle) (float64, error) {
	if len(candles) == 0 {
		return 0, fmt.Errorf("vwap: %w", ErrInsufficientData)
	}
	var pv, vol float64
	for _, c := range candles {
		typical := (c.Low + c.High + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0, fmt.Errorf("vwap: zero volume: %w", ErrInsufficientData)
	}
	return Round(pv/vol, 2), nil
}

// RelativeVolume 最近 n 根的平均成交量 / 全部 K 线的平均成交量
func RelativeVolume(candles []model.Candle, n int) (float64, error) {
	if len(candles) == 0 || n <= 0 {
		return 0, fmt.Errorf("relative volume: %w", ErrInsufficientData)
	}
	if n > len(candles) {
		n = len(candles)
	}
	volumes := volumesOf(candles)
	recent, _ := Mean(volumes[len(volumes)-n:])
	all, _ := Mean(volumes)
	if all == 0 {
		return 0, fmt.Errorf("relative volume: zero volume: %w", ErrInsufficientData)
	}
	return recent / all, nil
}

// RSI 基于最近 RSIWindow 根 K 线的收盘价变动。
// 收盘价不变计入上涨。没有下跌时返回 100，没有上涨时返回 0
func RSI(candles []model.Candle) (float64, error) {
	if len(candles) > RSIWindow {
		candles = candles[len(candles)-RSIWindow:]
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("rsi: %w", ErrInsufficientData)
	}

	var ups, downs []float64
	for i := 1; i < len(candles); i++ {
		diff := candles[i].Close - candles[i-1].Close
		if diff >= 0 {
			ups = append(ups, diff)
		} else {
			downs = append(downs, -diff)
		}
	}
	if len(downs) == 0 {
		return 100, nil
	}
	if len(ups) == 0 {
		return 0, nil
	}
	upMean, _ := Mean(ups)
	downMean, _ := Mean(downs)
	if downMean == 0 {
		return 100, nil
	}
	rs := upMean / downMean
	return 100 - 100/(1+rs), nil
}

// Closes 提取收盘价序列
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumesOf(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
