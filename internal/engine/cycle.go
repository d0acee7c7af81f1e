package engine

import (
	"context"
	"crypto-swing-trader/internal/execution"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/retry"
	"crypto-swing-trader/internal/strategy"
	"crypto-swing-trader/internal/telemetry"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Outcome 一轮循环的结束原因
type Outcome string

const (
	OutcomeFrozen      Outcome = "frozen"
	OutcomeWalkAway    Outcome = "walk_away"
	OutcomeDryRun      Outcome = "dry_run"
	OutcomeMaxOrders   Outcome = "max_orders"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeBuySkipped  Outcome = "buy_skipped"
	OutcomeTraded      Outcome = "traded"
	OutcomeAborted     Outcome = "aborted"
)

// CycleReport 每轮结束后广播给看板
type CycleReport struct {
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Reached     CycleState    `json:"reached"`
	Outcome     Outcome       `json:"outcome"`
	Instruments int           `json:"instruments"`
	Candidates  int           `json:"candidates"`
	OpenOrders  int           `json:"openOrders"`
	Remargined  int           `json:"remargined"`
	Abandoned   int           `json:"abandoned"`
	Orphans     int           `json:"orphans"`
	Candidate   string        `json:"candidate,omitempty"`
	BuyOrderID  string        `json:"buyOrderId,omitempty"`
	SellOrderID string        `json:"sellOrderId,omitempty"`
	Gain        float64       `json:"gain"`
	Frozen      bool          `json:"frozen"`
	Error       string        `json:"error,omitempty"`
}

// RunCycle 运行一轮完整的唤醒循环。上一轮未结束时立即返回 ErrCycleInProgress。
// 只有 ctx 取消会让卖出重试提前结束，此时返回 ctx 的错误
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	if !e.tryAcquire() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer e.release()

	report := CycleReport{Started: time.Now(), Reached: StateIdle}
	err := e.cycleOnce(ctx, &report)
	e.state.advance(StateIdle)

	report.Duration = time.Since(report.Started)
	report.Gain = e.portfolio.Gain()
	report.Frozen = e.portfolio.IsFrozen()
	if err != nil {
		report.Error = err.Error()
	}
	e.publish(report)
	return report, err
}

func (e *Engine) enter(r *CycleReport, s CycleState) {
	if e.state.advance(s) {
		r.Reached = s
	}
}

func (e *Engine) cycleOnce(ctx context.Context, r *CycleReport) error {
	if e.portfolio.IsFrozen() {
		r.Outcome = OutcomeFrozen
		e.logger.Info("Trading frozen, cycle skipped")
		return nil
	}
	cfg := e.Config()

	e.enter(r, StateFetchingState)
	snap := e.data.BuildSnapshot(ctx, cfg.WakeInterval)
	e.orders.Learn(snap.Instruments)
	e.mu.Lock()
	e.lastSnap = snap
	e.mu.Unlock()
	r.Instruments = len(snap.Instruments)

	e.enter(r, StateReconcilingOrders)
	if _, err := e.orders.Sync(ctx); err != nil {
		e.logger.Error("Order reconciliation failed", zap.Error(err))
	}

	gain := e.portfolio.Gain()
	if cfg.WalkAway > 0 && gain >= cfg.WalkAway {
		r.Remargined = len(e.walkAway(ctx, cfg))
		r.Outcome = OutcomeWalkAway
		return nil
	}
	if cfg.DryRun {
		r.Outcome = OutcomeDryRun
		e.logger.Info("Dry run, no orders placed", zap.Int("instruments", r.Instruments))
		return nil
	}

	r.Orphans = len(e.orders.CleanOrphans(ctx, snap.Crypto, snap.Instruments))
	r.Remargined = len(e.orders.Remargin(ctx, cfg.Margin, cfg.StopMargin, false))
	r.Abandoned = len(e.orders.AbandonStale(ctx, cfg.MaxRounds))
	open, err := e.orders.Sync(ctx)
	if err != nil {
		e.logger.Error("Order reconciliation failed", zap.Error(err))
		open = e.orders.OpenOrders()
	}
	r.OpenOrders = len(open)
	telemetry.ObserveOrders("remargin", r.Remargined)
	telemetry.ObserveOrders("abandon", r.Abandoned)
	telemetry.ObserveOrders("orphan", r.Orphans)
	if cfg.MaxOrders > 0 && len(open) >= cfg.MaxOrders {
		r.Outcome = OutcomeMaxOrders
		e.logger.Info("Open order limit reached, not buying",
			zap.Int("open", len(open)),
			zap.Int("max", cfg.MaxOrders))
		return nil
	}

	e.enter(r, StateSelecting)
	params, err := strategy.ParamsFromConfig(cfg)
	if err != nil {
		r.Outcome = OutcomeNoCandidate
		return err
	}
	candidates := strategy.Select(snap, params, e.currentUniverse())
	r.Candidates = len(candidates)
	if len(candidates) == 0 {
		r.Outcome = OutcomeNoCandidate
		e.logger.Info("No candidate this cycle",
			zap.String("strategy", cfg.Strategy),
			zap.Int("market_slope_category", snap.MarketSlopeCategory))
		return nil
	}
	pick := candidates[0]
	r.Candidate = pick.ID

	e.enter(r, StateBuying)
	buy, err := e.orders.Buy(ctx, pick, snap.Cash, cfg.Fraction)
	if err != nil {
		// 买入失败视为本轮没有机会
		r.Outcome = OutcomeBuySkipped
		if errors.Is(err, execution.ErrSizeBelowMinimum) {
			e.logger.Info("Buy skipped", zap.String("product", pick.ID), zap.Error(err))
		} else {
			e.logger.Error("Buy failed", zap.String("product", pick.ID), zap.Error(err))
		}
		return nil
	}
	r.BuyOrderID = buy.ID
	telemetry.ObserveOrders("buy", 1)

	e.enter(r, StateSelling)
	sell, err := e.sellUntilPlaced(ctx, buy, pick.Price, cfg.Margin)
	if err != nil {
		r.Outcome = OutcomeAborted
		return err
	}
	r.SellOrderID = sell.ID
	r.Outcome = OutcomeTraded
	telemetry.ObserveOrders("sell", 1)
	return nil
}

// sellUntilPlaced 买单已经下出，持仓不能无人管理：无限重试直到卖单挂出
func (e *Engine) sellUntilPlaced(ctx context.Context, buy *model.Order, refPrice, margin float64) (*model.Order, error) {
	var sell *model.Order
	err := retry.Forever(ctx, e.sellRetryDelay, func(attempt int) error {
		o, err := e.orders.SellAfterBuy(ctx, buy, refPrice, margin)
		if err != nil {
			return err
		}
		sell = o
		return nil
	}, func(attempt int, err error) {
		e.logger.Warn("Sell not placed, retrying",
			zap.String("buy_order_id", buy.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err != nil {
		e.logger.Error("Sell retry aborted, position left unmanaged",
			zap.String("buy_order_id", buy.ID),
			zap.String("product", buy.ProductID),
			zap.Error(err))
		return nil, err
	}
	return sell, nil
}

func (e *Engine) publish(r CycleReport) {
	e.mu.Lock()
	e.lastReport = &r
	e.mu.Unlock()

	telemetry.ObserveCycle(string(r.Outcome), r.Duration)
	telemetry.SetGain(r.Gain, r.Frozen)
	if e.hub != nil {
		e.hub.Broadcast("cycle", r)
	}
	e.logger.Info("Cycle finished",
		zap.String("outcome", string(r.Outcome)),
		zap.String("reached", string(r.Reached)),
		zap.Duration("duration", r.Duration),
		zap.Float64("gain", r.Gain))
}
