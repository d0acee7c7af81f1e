package data

import (
	"context"
	"crypto-swing-trader/internal/api"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/portfolio"
	"crypto-swing-trader/internal/retry"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func risingCandles(n int, start float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := start + float64(i)
		out[i] = model.Candle{
			Time:   time.Unix(int64(60*i), 0),
			Low:    c - 1,
			High:   c + 1,
			Open:   c,
			Close:  c,
			Volume: 10,
		}
	}
	return out
}

func newEngine(ex api.Exchange, tr *portfolio.Tracker, attempts int) *DataEngine {
	return NewDataEngine(ex, tr, retry.NewPacer(0), Config{
		QuoteCurrency: "USD",
		CandleRetry:   retry.Policy{Attempts: attempts},
	}, zap.NewNop())
}

func TestBuildSnapshot(t *testing.T) {
	ex := api.NewPaperExchange("USD", 500)
	ex.AddProduct(model.Product{BaseCurrency: "BTC", BaseMinSize: 0.001, BaseIncrement: "0.00000001", QuoteIncrement: "0.01"}, 150)
	ex.AddProduct(model.Product{BaseCurrency: "ETH", BaseMinSize: 0.01, BaseIncrement: "0.0001"}, 20)
	ex.AddProduct(model.Product{BaseCurrency: "XLM", LimitOnly: true}, 1)
	ex.AddProduct(model.Product{BaseCurrency: "BTC", QuoteCurrency: "EUR", ID: "BTC-EUR"}, 140)
	ex.SetStats("BTC-USD", model.Stats{Open: 100})
	ex.SetCandles("BTC-USD", risingCandles(50, 100))
	// ETH 一直返回空页，重试耗尽后被跳过
	ex.SetBalance("BTC", 2)
	ex.SetBalance("DOGE", 0)

	tr := portfolio.NewTracker("USD")
	snap := newEngine(ex, tr, 3).BuildSnapshot(context.Background(), 10*time.Minute)

	if len(snap.Instruments) != 1 || snap.Instruments[0].ID != "BTC-USD" {
		t.Fatalf("instruments = %+v", snap.Instruments)
	}
	if got := ex.Calls("GetProductHistoricRates"); got != 4 {
		t.Errorf("candle calls = %d, want 3 (ETH retries) + 1 (BTC)", got)
	}
	if snap.Cash != 500 {
		t.Errorf("cash = %v", snap.Cash)
	}
	if snap.Crypto["BTC"] != 2 || len(snap.Crypto) != 1 {
		t.Errorf("crypto = %+v", snap.Crypto)
	}

	if _, ok := snap.Instrument("ETH-USD"); ok {
		t.Error("ETH-USD should be skipped after candle retries")
	}
	btc, ok := snap.Instrument("BTC-USD")
	if !ok {
		t.Fatal("BTC-USD missing")
	}
	if math.Abs(btc.Change-0.5) > 1e-12 {
		t.Errorf("change = %v, want 0.5", btc.Change)
	}
	if btc.Slope <= 0 || btc.SlopeCategory != 5 {
		t.Errorf("slope = %v category = %v", btc.Slope, btc.SlopeCategory)
	}
	if btc.RSI != 100 {
		t.Errorf("rsi = %v", btc.RSI)
	}
	if snap.MarketGain != btc.Change || snap.MarketSlopeCategory != btc.SlopeCategory {
		t.Errorf("aggregates = %v / %v", snap.MarketGain, snap.MarketSlopeCategory)
	}

	// 2 BTC × 150 + 500 USD
	if v := tr.Value(); v != 800 {
		t.Errorf("portfolio value = %v, want 800", v)
	}
}

func TestBuildSnapshotSurvivesExchangeErrors(t *testing.T) {
	ex := api.NewPaperExchange("USD", 100)
	ex.FailNext("GetProducts", errors.New("503"))

	tr := portfolio.NewTracker("USD")
	snap := newEngine(ex, tr, 1).BuildSnapshot(context.Background(), time.Minute)
	if snap == nil || snap.Crypto == nil || snap.Instruments == nil {
		t.Fatalf("snapshot must be structurally valid, got %+v", snap)
	}
	if len(snap.Instruments) != 0 {
		t.Errorf("instruments = %+v", snap.Instruments)
	}
}

func TestCandleRetryRecovers(t *testing.T) {
	ex := api.NewPaperExchange("USD", 100)
	ex.AddProduct(model.Product{BaseCurrency: "SOL"}, 30)
	ex.SetCandles("SOL-USD", risingCandles(20, 25))
	ex.FailNext("GetProductHistoricRates", api.ErrTransient)
	ex.FailNext("GetProductHistoricRates", api.ErrTransient)

	snap := newEngine(ex, portfolio.NewTracker("USD"), 5).BuildSnapshot(context.Background(), 2*time.Minute)
	if len(snap.Instruments) != 1 {
		t.Fatalf("instruments = %+v", snap.Instruments)
	}
	if got := ex.Calls("GetProductHistoricRates"); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestCandlePermanentErrorNotRetried(t *testing.T) {
	ex := api.NewPaperExchange("USD", 100)
	ex.AddProduct(model.Product{BaseCurrency: "OLD"}, 3)
	ex.FailNext("GetProductHistoricRates", &api.Error{StatusCode: 404, Message: "NotFound"})

	snap := newEngine(ex, portfolio.NewTracker("USD"), 50).BuildSnapshot(context.Background(), 2*time.Minute)
	if _, ok := snap.Instrument("OLD-USD"); ok {
		t.Error("OLD-USD should be skipped")
	}
	if got := ex.Calls("GetProductHistoricRates"); got != 1 {
		t.Errorf("candle calls = %d, want 1", got)
	}
}

func TestComputeInstrumentComposite(t *testing.T) {
	candles := risingCandles(30, 100)
	inst, err := ComputeInstrument(model.Product{ID: "ABC-USD"}, model.Stats{Open: 120}, 120, candles, 5)
	if err != nil {
		t.Fatal(err)
	}
	if inst.BaseCurrency != "ABC" {
		t.Errorf("base = %q", inst.BaseCurrency)
	}
	if want := inst.VWAP - 5*inst.Slope; math.Abs(inst.CompositeScore-want) > 1e-15 {
		t.Errorf("composite = %v, want %v", inst.CompositeScore, want)
	}
	if inst.Change != 0 {
		t.Errorf("change = %v", inst.Change)
	}
	// 斜率 1 / 价格 120
	if math.Abs(inst.Slope-1.0/120) > 1e-9 {
		t.Errorf("relative slope = %v", inst.Slope)
	}
}

func TestComputeInstrumentInsufficientData(t *testing.T) {
	_, err := ComputeInstrument(model.Product{ID: "ABC-USD"}, model.Stats{}, 1, risingCandles(1, 1), 5)
	if err == nil {
		t.Fatal("expected error for a single candle")
	}
}
