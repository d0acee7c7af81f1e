// Package engine 驱动唤醒循环：行情快照 -> 订单对账 -> 选币 -> 买入 -> 挂出卖单。
// Engine 持有交易所、订单管理、持仓跟踪和配置，是对外服务层唯一可调用的入口
package engine

import (
	"context"
	"crypto-swing-trader/internal/api"
	"crypto-swing-trader/internal/data"
	"crypto-swing-trader/internal/execution"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/portfolio"
	"crypto-swing-trader/internal/service"
	"crypto-swing-trader/internal/strategy"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCycleInProgress 上一轮还没结束，本次唤醒被丢弃
var ErrCycleInProgress = errors.New("cycle already in progress")

const resetInterval = 24 * time.Hour

// Broadcaster 接收每轮的报告，由 telemetry.Hub 实现
type Broadcaster interface {
	Broadcast(topic string, v any)
}

// Deps 引擎依赖。Ranking 为 nil 表示不按市值排行过滤
type Deps struct {
	Ranking     api.Ranking
	Data        *data.DataEngine
	Orders      *execution.Manager
	Portfolio   *portfolio.Tracker
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

// Engine 引擎上下文，进程内只构造一次
type Engine struct {
	ranking   api.Ranking
	data      *data.DataEngine
	orders    *execution.Manager
	portfolio *portfolio.Tracker
	hub       Broadcaster
	logger    *zap.Logger

	sellRetryDelay time.Duration

	// cycle 容量为 1 的信号量，持有者才能运行一轮或执行 walk-away
	cycle       chan struct{}
	state       *stateMachine
	reconfigure chan struct{} // 唤醒间隔变更信号，新值从 cfg 读取
	wg          sync.WaitGroup

	mu         sync.RWMutex
	cfg        service.TradingConfig
	universe   strategy.Universe
	lastSnap   *model.MarketSnapshot
	lastReport *CycleReport
}

// New 校验初始策略配置并构建引擎
func New(deps Deps, cfg service.TradingConfig, sellRetryDelay time.Duration) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = service.Logger
	}
	logger = logger.With(zap.String("component", "engine"))

	e := &Engine{
		ranking:        deps.Ranking,
		data:           deps.Data,
		orders:         deps.Orders,
		portfolio:      deps.Portfolio,
		hub:            deps.Broadcaster,
		logger:         logger,
		sellRetryDelay: sellRetryDelay,
		cycle:          make(chan struct{}, 1),
		state:          newStateMachine(logger),
		reconfigure:    make(chan struct{}, 1),
		cfg:            cfg,
	}
	if e.ranking != nil {
		// 排行开启但尚未加载时没有任何交易对可选
		e.universe = strategy.Universe{}
	}
	return e, nil
}

// Run 启动唤醒循环，直到 ctx 取消。每个唤醒周期运行一轮，
// 每 24 小时重置收益基线并刷新市值排行
func (e *Engine) Run(ctx context.Context) error {
	e.RefreshRanking(ctx)

	wake := time.NewTicker(e.Config().WakeInterval)
	defer wake.Stop()
	daily := time.NewTicker(resetInterval)
	defer daily.Stop()

	e.logger.Info("Engine started", zap.Duration("wake", e.Config().WakeInterval))
	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("Engine stopped")
			return nil
		case <-wake.C:
			e.tick(ctx)
		case <-daily.C:
			e.logger.Info("Daily reset")
			e.portfolio.Reset()
			e.RefreshRanking(ctx)
		case <-e.reconfigure:
			d := e.Config().WakeInterval
			wake.Reset(d)
			e.logger.Info("Wake interval changed", zap.Duration("wake", d))
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.RunCycle(ctx); errors.Is(err, ErrCycleInProgress) {
			e.logger.Debug("Wake tick skipped, previous cycle still running")
		}
	}()
}

func (e *Engine) tryAcquire() bool {
	select {
	case e.cycle <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.cycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.cycle }

// State 当前循环阶段
func (e *Engine) State() CycleState { return e.state.Current() }

// Config 当前策略配置的副本
func (e *Engine) Config() service.TradingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ApplyConfig 合并部分更新并返回生效后的配置。非法值返回 ErrConfigurationInvalid，旧配置保持不变。
// 新配置从下一轮开始生效
func (e *Engine) ApplyConfig(patch service.TradingPatch) (service.TradingConfig, error) {
	e.mu.Lock()
	next, err := patch.Apply(e.cfg)
	if err != nil {
		cur := e.cfg
		e.mu.Unlock()
		e.logger.Warn("Configuration rejected", zap.Error(err))
		return cur, err
	}
	prev := e.cfg
	e.cfg = next
	e.mu.Unlock()

	e.afterConfigChange(prev, next)
	return next, nil
}

// Reload 整体替换策略配置，用于配置文件热更新
func (e *Engine) Reload(cfg service.TradingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	e.mu.Unlock()

	e.afterConfigChange(prev, cfg)
	return nil
}

func (e *Engine) afterConfigChange(prev, next service.TradingConfig) {
	e.logger.Info("Configuration applied", zap.Any("trading", next))
	if prev.WakeInterval != next.WakeInterval {
		// 已有未处理的信号时直接丢弃，Run 处理时读取的总是最新配置
		select {
		case e.reconfigure <- struct{}{}:
		default:
		}
	}
	if prev.MaxRank != next.MaxRank && e.ranking != nil {
		go e.RefreshRanking(context.Background())
	}
}

// RefreshRanking 重新拉取市值前 MaxRank 的币种。失败时保留上一次的结果
func (e *Engine) RefreshRanking(ctx context.Context) {
	if e.ranking == nil {
		return
	}
	limit := e.Config().MaxRank
	if limit <= 0 {
		e.mu.Lock()
		e.universe = nil
		e.mu.Unlock()
		return
	}
	coins, err := e.ranking.GetTopCoins(ctx, limit)
	if err != nil {
		e.logger.Error("Failed to refresh ranking", zap.Int("limit", limit), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.universe = strategy.NewUniverse(coins)
	e.mu.Unlock()
	e.logger.Info("Ranking refreshed", zap.Int("coins", len(coins)))
}

func (e *Engine) currentUniverse() strategy.Universe {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.universe
}

// Snapshot 最近一轮的市场快照，交易对按当前策略指标升序。还没有完成过一轮时返回 false
func (e *Engine) Snapshot() (model.MarketSnapshot, bool) {
	e.mu.RLock()
	last, cfg := e.lastSnap, e.cfg
	e.mu.RUnlock()
	if last == nil {
		return model.MarketSnapshot{}, false
	}

	snap := *last
	snap.Instruments = append([]model.InstrumentSnapshot(nil), last.Instruments...)
	snap.Crypto = make(map[string]float64, len(last.Crypto))
	for k, v := range last.Crypto {
		snap.Crypto[k] = v
	}
	if kind, err := strategy.ParseKind(cfg.Strategy); err == nil {
		strategy.SortByMetric(snap.Instruments, kind)
	}
	return snap, true
}

// LastReport 最近一轮的报告
func (e *Engine) LastReport() (CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastReport == nil {
		return CycleReport{}, false
	}
	return *e.lastReport, true
}

func (e *Engine) PortfolioStatus() portfolio.Status { return e.portfolio.Status() }

func (e *Engine) OpenOrders() []model.Order { return e.orders.OpenOrders() }

// SetGain 手动覆盖当前收益
func (e *Engine) SetGain(gain float64) {
	e.portfolio.SetGain(gain)
	e.logger.Info("Gain overridden", zap.Float64("gain", gain))
}

// ForceWalkAway 立即熔断：冻结交易并把所有挂着的卖单移到现价附近。
// 等待正在运行的一轮结束后执行
func (e *Engine) ForceWalkAway(ctx context.Context) ([]model.Order, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.walkAway(ctx, e.Config()), nil
}

func (e *Engine) walkAway(ctx context.Context, cfg service.TradingConfig) []model.Order {
	e.portfolio.Freeze()
	replaced := e.orders.Remargin(ctx, cfg.Margin, cfg.StopMargin, true)
	e.logger.Warn("Walked away, trading frozen until reset",
		zap.Float64("gain", e.portfolio.Gain()),
		zap.Int("replaced", len(replaced)))
	return replaced
}

// Resume 解除熔断并重置收益基线
func (e *Engine) Resume() {
	e.portfolio.Reset()
	e.logger.Info("Trading resumed")
}
