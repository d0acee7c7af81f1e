package ta

import (
	"crypto-swing-trader/internal/model"
	"errors"
	"math"
	"testing"
	"time"
)

func candle(low, high, open, close, volume float64) model.Candle {
	return model.Candle{Time: time.Unix(0, 0), Low: low, High: high, Open: open, Close: close, Volume: volume}
}

func closesToCandles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(c, c, c, c, 1)
	}
	return out
}

func TestVarianceAndVolatility(t *testing.T) {
	seq := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	v, err := Variance(seq)
	if err != nil {
		t.Fatalf("variance: %v", err)
	}
	if v != 8.25 {
		t.Errorf("variance = %v, want 8.25", v)
	}

	vol, err := Volatility(seq)
	if err != nil {
		t.Fatalf("volatility: %v", err)
	}
	if vol != 2.87 {
		t.Errorf("volatility = %v, want 2.87", vol)
	}
	if want := Round(math.Sqrt(v), 2); vol != want {
		t.Errorf("volatility %v != round2(sqrt(variance)) %v", vol, want)
	}
}

func TestVarianceOfConstantIsZero(t *testing.T) {
	for _, n := range []int{1, 2, 7, 50} {
		seq := make([]float64, n)
		for i := range seq {
			seq[i] = 42.5
		}
		v, err := Variance(seq)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if v != 0 {
			t.Errorf("n=%d: variance = %v, want 0", n, v)
		}
	}
}

func TestEmptyInputIsInsufficientData(t *testing.T) {
	if _, err := Mean(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Mean(nil) err = %v", err)
	}
	if _, err := Volatility(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Volatility(nil) err = %v", err)
	}
	if _, err := VWAP(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("VWAP(nil) err = %v", err)
	}
	if _, err := RSI(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("RSI(nil) err = %v", err)
	}
	if _, err := RelativeVolume(nil, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("RelativeVolume(nil) err = %v", err)
	}
	if _, err := LinearRegressionSlope([]float64{1}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("LinearRegressionSlope(1 point) err = %v", err)
	}
}

func TestVWAPFixture(t *testing.T) {
	candles := []model.Candle{
		candle(9, 11, 10, 10, 100),
		candle(6, 10, 8, 8, 300),
		candle(10, 12, 11, 11, 200),
	}
	got, err := VWAP(candles)
	if err != nil {
		t.Fatal(err)
	}
	if got != 9.33 {
		t.Errorf("vwap = %v, want 9.33", got)
	}
}

func TestVWAPZeroVolume(t *testing.T) {
	_, err := VWAP([]model.Candle{candle(1, 2, 1, 2, 0)})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestRSIAlternating(t *testing.T) {
	// 上涨均值 5，下跌均值 10
	candles := closesToCandles(100, 105, 95, 100, 90, 95, 85)
	got, err := RSI(candles)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-33.33) > 0.01 {
		t.Errorf("rsi = %v, want 33.33", got)
	}
}

func TestRSIUsesLastWindow(t *testing.T) {
	// 前面的大幅下跌不在最近 15 根之内
	closes := []float64{1000, 500, 100}
	for i := 0; i < RSIWindow; i++ {
		closes = append(closes, 100+float64(i))
	}
	got, err := RSI(closesToCandles(closes...))
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("rsi = %v, want 100", got)
	}
}

func TestRSIFlatCountsAsUp(t *testing.T) {
	got, err := RSI(closesToCandles(10, 10, 10))
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("rsi = %v, want 100", got)
	}
}

func TestLinearRegressionSlope(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"rising", []float64{1, 2, 3, 4, 5}, 1},
		{"falling", []float64{10, 8, 6, 4}, -2},
		{"flat", []float64{3, 3, 3}, 0},
		{"two points", []float64{1, 1.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LinearRegressionSlope(tt.values)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-8 {
				t.Errorf("slope = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelativeVolume(t *testing.T) {
	candles := []model.Candle{
		candle(1, 1, 1, 1, 10),
		candle(1, 1, 1, 1, 10),
		candle(1, 1, 1, 1, 10),
		candle(1, 1, 1, 1, 50),
	}
	got, err := RelativeVolume(candles, 1)
	if err != nil {
		t.Fatal(err)
	}
	// 50 / 20
	if got != 2.5 {
		t.Errorf("relative volume = %v, want 2.5", got)
	}

	all, err := RelativeVolume(candles, 100)
	if err != nil {
		t.Fatal(err)
	}
	if all != 1 {
		t.Errorf("relative volume over full window = %v, want 1", all)
	}
}

func TestCategorizeSlope(t *testing.T) {
	tests := []struct {
		slope float64
		want  SlopeCategory
	}{
		{-0.001, StrongBear},
		{-0.0001, Bear},
		{-0.00005, Bear},
		{-0.00001, Flat},
		{0, Flat},
		{0.00001, Bull},
		{0.00009, Bull},
		{0.0001, StrongBull},
		{1, StrongBull},
	}
	for _, tt := range tests {
		if got := CategorizeSlope(tt.slope); got != tt.want {
			t.Errorf("CategorizeSlope(%v) = %v, want %v", tt.slope, got, tt.want)
		}
	}
}
