package strategy

import (
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/service"
	"math/rand"
	"testing"
	"time"
)

func snapshotOf(instruments ...model.InstrumentSnapshot) *model.MarketSnapshot {
	s := model.NewMarketSnapshot(time.Now())
	s.Instruments = instruments
	s.MarketSlopeCategory = 3
	return s
}

func baseParams(kind Kind) Params {
	return Params{
		Kind:                   kind,
		MaxVWAP:                -0.001,
		MinSlope:               0.001,
		MaxVolatility:          0.01,
		MinLoss:                -0.5,
		MaxRSI:                 30,
		MinRelVol:              5,
		MinMarketSlopeCategory: 3,
	}
}

// 每种策略一对候选：match 只满足本策略条件，miss 不满足
var predicateCases = map[Kind]struct{ match, miss model.InstrumentSnapshot }{
	KindCompositeScore: {
		match: model.InstrumentSnapshot{ID: "A-USD", VWAP: -0.01, Slope: 0.01},
		miss:  model.InstrumentSnapshot{ID: "B-USD", VWAP: -0.01, Slope: 0},
	},
	KindVWAP: {
		match: model.InstrumentSnapshot{ID: "A-USD", VWAP: -0.01},
		miss:  model.InstrumentSnapshot{ID: "B-USD", VWAP: 0.01},
	},
	KindSlope: {
		match: model.InstrumentSnapshot{ID: "A-USD", Slope: 0.01},
		miss:  model.InstrumentSnapshot{ID: "B-USD", Slope: -0.01},
	},
	KindChange: {
		match: model.InstrumentSnapshot{ID: "A-USD", Change: -0.1},
		miss:  model.InstrumentSnapshot{ID: "B-USD", Change: -0.9},
	},
	KindVolatility: {
		match: model.InstrumentSnapshot{ID: "A-USD", Volatility: 0.001},
		miss:  model.InstrumentSnapshot{ID: "B-USD", Volatility: 0.5},
	},
	KindRelativeVolume: {
		match: model.InstrumentSnapshot{ID: "A-USD", RelativeVolume: 8, ShortSlope: 0.001},
		miss:  model.InstrumentSnapshot{ID: "B-USD", RelativeVolume: 8, ShortSlope: -0.001},
	},
}

func TestSelectKeepsOnlyMatchingCandidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for kind, tc := range predicateCases {
		for i := 0; i < 50; i++ {
			p := baseParams(kind)
			// 打乱与当前策略无关的阈值
			switch kind {
			case KindCompositeScore:
				p.MaxVolatility, p.MinLoss, p.MinRelVol = rng.Float64(), -rng.Float64(), rng.Float64()*10
			case KindVWAP:
				p.MinSlope, p.MaxVolatility, p.MinLoss, p.MinRelVol = rng.NormFloat64(), rng.Float64(), -rng.Float64(), rng.Float64()*10
			case KindSlope:
				p.MaxVWAP, p.MaxVolatility, p.MinLoss, p.MinRelVol = rng.NormFloat64(), rng.Float64(), -rng.Float64(), rng.Float64()*10
			case KindChange:
				p.MaxVWAP, p.MinSlope, p.MaxVolatility, p.MinRelVol = rng.NormFloat64(), rng.NormFloat64(), rng.Float64(), rng.Float64()*10
			case KindVolatility:
				p.MaxVWAP, p.MinSlope, p.MinLoss, p.MinRelVol = rng.NormFloat64(), rng.NormFloat64(), -rng.Float64(), rng.Float64()*10
			case KindRelativeVolume:
				p.MaxVWAP, p.MinSlope, p.MaxVolatility, p.MinLoss = rng.NormFloat64(), rng.NormFloat64(), rng.Float64(), -rng.Float64()
			}

			got := Select(snapshotOf(tc.miss, tc.match), p, nil)
			if len(got) != 1 || got[0].ID != tc.match.ID {
				t.Fatalf("%s (params %+v): got %+v, want only %s", kind, p, got, tc.match.ID)
			}
		}
	}
}

func TestSelectRSICeiling(t *testing.T) {
	snap := snapshotOf(
		model.InstrumentSnapshot{ID: "A-USD", Change: -0.1, RSI: 45},
		model.InstrumentSnapshot{ID: "B-USD", Change: -0.1, RSI: 30},
	)
	got := Select(snap, baseParams(KindChange), nil)
	if len(got) != 1 || got[0].ID != "B-USD" {
		t.Errorf("got %+v", got)
	}
}

func TestSelectSortsAscendingAndStable(t *testing.T) {
	snap := snapshotOf(
		model.InstrumentSnapshot{ID: "A-USD", Change: -0.02},
		model.InstrumentSnapshot{ID: "B-USD", Change: -0.20},
		model.InstrumentSnapshot{ID: "C-USD", Change: -0.02},
		model.InstrumentSnapshot{ID: "D-USD", Change: 0.05},
	)
	got := Select(snap, baseParams(KindChange), nil)
	want := []string{"B-USD", "A-USD", "C-USD", "D-USD"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates", len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestSelectBearishMarketRejectsAll(t *testing.T) {
	snap := snapshotOf(model.InstrumentSnapshot{ID: "A-USD", Change: -0.1})
	snap.MarketSlopeCategory = 2
	if got := Select(snap, baseParams(KindChange), nil); len(got) != 0 {
		t.Errorf("got %+v, want none", got)
	}
}

func TestSelectUniverse(t *testing.T) {
	snap := snapshotOf(
		model.InstrumentSnapshot{ID: "BTC-USD", BaseCurrency: "BTC", Change: -0.1},
		model.InstrumentSnapshot{ID: "DOGE-USD", Change: -0.2},
	)
	universe := NewUniverse([]model.TopCoin{{Symbol: "btc"}})
	got := Select(snap, baseParams(KindChange), universe)
	if len(got) != 1 || got[0].ID != "BTC-USD" {
		t.Errorf("got %+v", got)
	}

	if got := Select(snap, baseParams(KindChange), Universe{}); len(got) != 0 {
		t.Errorf("empty universe should select nothing, got %+v", got)
	}
}

func TestParamsFromConfig(t *testing.T) {
	cfg := service.TradingConfig{Strategy: "relativeVolume", MaxRSI: 40, MinRelVol: 3}
	p, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindRelativeVolume || p.MaxRSI != 40 || p.MinRelVol != 3 {
		t.Errorf("params = %+v", p)
	}
	if _, err := ParamsFromConfig(service.TradingConfig{Strategy: "moon"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
