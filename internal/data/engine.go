package data

import (
	"context"
	"crypto-swing-trader/internal/api"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/retry"
	"crypto-swing-trader/internal/service"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errEmptyCandles = errors.New("empty candle page")

// PortfolioSink 接收每轮的余额和价格，由 portfolio.Tracker 实现
type PortfolioSink interface {
	SetBalances(balances map[string]float64)
	SetPrice(currency string, price float64)
	Compute() float64
}

// Config 行情聚合参数
type Config struct {
	QuoteCurrency    string
	CandleRetry      retry.Policy
	Granularity      int // 秒
	LookbackMultiple int // 回看窗口 = 唤醒周期 × LookbackMultiple
}

// DataEngine 每轮为所有合格交易对拉取 24h 统计、ticker 和 K 线，计算指标并生成 MarketSnapshot
type DataEngine struct {
	ex        api.Exchange
	portfolio PortfolioSink
	pacer     *retry.Pacer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewDataEngine 创建行情聚合器。pacer 与订单管理共用，保证所有交易所调用之间都有间隔
func NewDataEngine(ex api.Exchange, sink PortfolioSink, pacer *retry.Pacer, cfg Config, logger *zap.Logger) *DataEngine {
	if cfg.Granularity <= 0 {
		cfg.Granularity = 60
	}
	if cfg.LookbackMultiple <= 0 {
		cfg.LookbackMultiple = 5
	}
	return &DataEngine{
		ex:        ex,
		portfolio: sink,
		pacer:     pacer,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "data")),
		now:       time.Now,
	}
}

// BuildSnapshot 生成本轮市场快照。交易所错误只记录日志不向上传播，
// 返回值总是结构完整的快照（可能缺少部分交易对）。结束时总会触发 portfolio 的 Compute
func (de *DataEngine) BuildSnapshot(ctx context.Context, wake time.Duration) *model.MarketSnapshot {
	snap := model.NewMarketSnapshot(de.now())
	defer de.portfolio.Compute()

	if err := de.pacer.Wait(ctx); err != nil {
		return snap
	}
	products, err := de.ex.GetProducts(ctx)
	if err != nil {
		de.logger.Error("Failed to fetch products", zap.Error(err))
		return snap
	}

	if err := de.pacer.Wait(ctx); err != nil {
		return snap
	}
	if accounts, err := de.ex.GetAccounts(ctx); err != nil {
		de.logger.Error("Failed to fetch accounts", zap.Error(err))
	} else {
		de.applyAccounts(snap, accounts)
	}

	period := service.IntervalMinutes(wake)
	var (
		errs    error
		changes []float64
		slopes  []float64
	)
	for _, prod := range de.eligible(products) {
		inst, err := de.instrument(ctx, prod, period)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", prod.ID, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		snap.Instruments = append(snap.Instruments, inst)
		changes = append(changes, inst.Change)
		slopes = append(slopes, inst.Slope)
	}

	if len(snap.Instruments) > 0 {
		snap.MarketGain = mean(changes)
		snap.MarketSlope = mean(slopes)
		snap.MarketSlopeCategory = int(categorize(snap.MarketSlope))
	}
	if errs != nil {
		de.logger.Warn("Some instruments were skipped this cycle",
			zap.Int("skipped", len(multierr.Errors(errs))),
			zap.Error(errs))
	}
	de.logger.Info("Market snapshot built",
		zap.Int("instruments", len(snap.Instruments)),
		zap.Float64("cash", snap.Cash),
		zap.Float64("market_gain", snap.MarketGain),
		zap.Int("market_slope_category", snap.MarketSlopeCategory))
	return snap
}

func (de *DataEngine) applyAccounts(snap *model.MarketSnapshot, accounts []model.Account) {
	balances := make(map[string]float64, len(accounts))
	for _, acc := range accounts {
		balances[acc.Currency] = acc.Balance
		if acc.Currency == de.cfg.QuoteCurrency {
			snap.Cash = acc.Available
			continue
		}
		if acc.Available > 0 {
			snap.Crypto[acc.Currency] = acc.Available
		}
	}
	de.portfolio.SetBalances(balances)
}

// eligible 计价货币匹配、非 limit-only、未停牌
func (de *DataEngine) eligible(products []model.Product) []model.Product {
	out := make([]model.Product, 0, len(products))
	suffix := "-" + de.cfg.QuoteCurrency
	for _, p := range products {
		if p.QuoteCurrency != de.cfg.QuoteCurrency && !strings.HasSuffix(p.ID, suffix) {
			continue
		}
		if p.LimitOnly || p.TradingDisabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (de *DataEngine) instrument(ctx context.Context, prod model.Product, period int) (model.InstrumentSnapshot, error) {
	if err := de.pacer.Wait(ctx); err != nil {
		return model.InstrumentSnapshot{}, err
	}
	stats, err := de.ex.GetProduct24HrStats(ctx, prod.ID)
	if err != nil {
		return model.InstrumentSnapshot{}, fmt.Errorf("stats: %w", err)
	}

	if err := de.pacer.Wait(ctx); err != nil {
		return model.InstrumentSnapshot{}, err
	}
	ticker, err := de.ex.GetProductTicker(ctx, prod.ID)
	if err != nil {
		return model.InstrumentSnapshot{}, fmt.Errorf("ticker: %w", err)
	}
	de.portfolio.SetPrice(baseOf(prod), ticker.Price)

	candles, err := de.candles(ctx, prod.ID, period)
	if err != nil {
		return model.InstrumentSnapshot{}, err
	}
	return ComputeInstrument(prod, *stats, ticker.Price, candles, period)
}

// candles 拉取 period × LookbackMultiple 分钟的 1 分钟 K 线。临时错误和空页会重试，404/400 等直接放弃
func (de *DataEngine) candles(ctx context.Context, productID string, period int) ([]model.Candle, error) {
	end := de.now()
	params := model.HistoricRatesParams{
		Start:       end.Add(-time.Duration(period*de.cfg.LookbackMultiple) * time.Minute),
		End:         end,
		Granularity: de.cfg.Granularity,
	}

	var candles []model.Candle
	err := retry.Do(ctx, de.cfg.CandleRetry, func(attempt int) error {
		if err := de.pacer.Wait(ctx); err != nil {
			return err
		}
		got, err := de.ex.GetProductHistoricRates(ctx, productID, params)
		if err != nil {
			de.logger.Debug("Price history fetch failed", zap.String("product", productID), zap.Int("attempt", attempt), zap.Error(err))
			if !api.IsTransient(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if len(got) == 0 {
			return errEmptyCandles
		}
		candles = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("price history not retrieved: %w", err)
	}
	return candles, nil
}

func baseOf(p model.Product) string {
	if p.BaseCurrency != "" {
		return p.BaseCurrency
	}
	if i := strings.IndexByte(p.ID, '-'); i > 0 {
		return p.ID[:i]
	}
	return p.ID
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
