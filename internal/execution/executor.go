package execution

import (
	"context"
	"crypto-swing-trader/internal/api"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/retry"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSizeBelowMinimum 计算出的买入数量不超过最小下单量，本轮不买
	ErrSizeBelowMinimum = errors.New("order size below minimum")
	// ErrSellNotExecutable 轮询预算内没有观察到买单成交，调用方需要重试卖出流程
	ErrSellNotExecutable = errors.New("couldn't execute the sell")

	errNotFilled = errors.New("order not filled yet")
)

// Config 订单管理参数
type Config struct {
	QuoteCurrency string
	FillPoll      retry.Policy // 买单成交轮询次数与间隔
	ExitMargin    float64      // 止损/弃单/孤儿清理时使用的最小利润率
}

// Manager 负责所有交易所订单操作，并维护订单状态表
type Manager struct {
	ex     api.Exchange
	pacer  *retry.Pacer
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	orders   *table
	open     []model.Order     // 最近一次对账时的挂单
	quoteInc map[string]string // product -> 报价步长
}

// NewManager 创建订单管理器。pacer 与行情聚合共用
func NewManager(ex api.Exchange, pacer *retry.Pacer, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		ex:       ex,
		pacer:    pacer,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orders")),
		orders:   newTable(time.Now),
		open:     make([]model.Order, 0),
		quoteInc: make(map[string]string),
	}
}

// Learn 记录本轮快照中各交易对的报价步长，用于限价格式化
func (m *Manager) Learn(instruments []model.InstrumentSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instruments {
		if inst.QuoteIncrement != "" {
			m.quoteInc[inst.ID] = inst.QuoteIncrement
		}
	}
}

// Sync 拉取当前挂单并与状态表对账：未知挂单纳入跟踪；不再挂单的条目逐个查询最终结果，
// 按成交或撤销移出状态表，查询失败的留到下一次对账
func (m *Manager) Sync(ctx context.Context) ([]model.Order, error) {
	orders, err := m.fetchOpen(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.open = orders
	live := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		live[o.ID] = struct{}{}
		m.orders.adopt(o)
	}
	gone := make([]*TrackedOrder, 0)
	for id, e := range m.orders.entries {
		if _, ok := live[id]; !ok {
			cp := *e
			gone = append(gone, &cp)
		}
	}
	m.mu.Unlock()

	sort.Slice(gone, func(i, j int) bool { return gone[i].ID < gone[j].ID })
	for _, e := range gone {
		to, ok := m.closedState(ctx, e)
		if !ok {
			continue
		}
		m.mu.Lock()
		m.transitionLocked(e.ID, to)
		m.mu.Unlock()
	}
	return append([]model.Order(nil), orders...), nil
}

// closedState 查询离开挂单列表的订单。未成交就撤销的订单交易所不再保留(404)
func (m *Manager) closedState(ctx context.Context, e *TrackedOrder) (OrderState, bool) {
	if err := m.pacer.Wait(ctx); err != nil {
		return "", false
	}
	o, err := m.ex.GetOrder(ctx, e.ID)
	switch {
	case api.IsNotFound(err):
		return StateCanceled, true
	case err != nil:
		m.logger.Warn("Failed to resolve closed order", zap.String("order_id", e.ID), zap.Error(err))
		return "", false
	case o.Status != model.OrderStatusDone && o.Status != model.OrderStatusRejected:
		return "", false
	case o.DoneReason == model.DoneReasonCanceled || o.FilledSize <= 0:
		return StateCanceled, true
	case e.Side == model.SideBuy:
		return StateFilledBuy, true
	default:
		return StateFilledSell, true
	}
}

// OpenOrders 最近一次对账得到的挂单副本
func (m *Manager) OpenOrders() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Order(nil), m.open...)
}

// Tracked 状态表快照，按订单 ID 排序
func (m *Manager) Tracked() []TrackedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackedOrder, 0, len(m.orders.entries))
	for _, e := range m.orders.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Buy 以 cash × fraction 的资金市价买入候选交易对。数量不足时返回 ErrSizeBelowMinimum
func (m *Manager) Buy(ctx context.Context, inst model.InstrumentSnapshot, cash, fraction float64) (*model.Order, error) {
	raw := CalcSize(inst.Price, cash, fraction)
	if !IsValidSize(raw, inst.Min) {
		return nil, fmt.Errorf("%w: %s size %.8g <= min %.8g", ErrSizeBelowMinimum, inst.ID, raw, inst.Min)
	}
	size := RoundToIncrement(raw, inst.Increment)
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s size rounds to zero", ErrSizeBelowMinimum, inst.ID)
	}

	req := model.OrderRequest{
		ClientOID: uuid.NewString(),
		ProductID: inst.ID,
		Side:      model.SideBuy,
		Type:      model.OrderTypeMarket,
		Size:      FormatSize(size, inst.Increment),
	}
	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	o, err := m.ex.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place market buy %s: %w", inst.ID, err)
	}

	m.mu.Lock()
	m.orders.track(*o, inst.Price, "")
	m.mu.Unlock()

	m.logger.Info("Market buy placed",
		zap.String("order_id", o.ID),
		zap.String("product", inst.ID),
		zap.String("size", req.Size),
		zap.Float64("ref_price", inst.Price))
	return o, nil
}

// AwaitFill 轮询买单直到完成(done)。预算耗尽时若已有部分成交，按已成交部分返回；
// 完全没有成交返回 ErrSellNotExecutable
func (m *Manager) AwaitFill(ctx context.Context, orderID string) (*model.Order, error) {
	var last *model.Order
	err := retry.Do(ctx, m.cfg.FillPoll, func(attempt int) error {
		if err := m.pacer.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		o, err := m.ex.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.FilledSize > 0 {
			last = o
		}
		if o.Status != model.OrderStatusDone {
			return errNotFilled
		}
		if o.FilledSize <= 0 {
			return retry.Permanent(fmt.Errorf("order %s done without fills", orderID))
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if last == nil {
			return nil, fmt.Errorf("%w: order %s: %w", ErrSellNotExecutable, orderID, err)
		}
		m.logger.Warn("Buy still open after fill polling, selling the filled part",
			zap.String("order_id", orderID),
			zap.Float64("filled", last.FilledSize),
			zap.Float64("size", last.Size))
		return last, nil
	}

	m.mu.Lock()
	if e, ok := m.orders.entries[orderID]; ok && e.State == StateOpenBuy {
		m.transitionLocked(orderID, StateFilledBuy)
	}
	m.mu.Unlock()
	return last, nil
}

// SellRequest 限价卖单参数，最终限价 = Price × (1 + Margin)
type SellRequest struct {
	ProductID string
	Size      float64
	Price     float64
	Margin    float64
	Replaces  string
}

// Sell 挂限价卖单
func (m *Manager) Sell(ctx context.Context, r SellRequest) (*model.Order, error) {
	if r.Price <= 0 {
		return nil, fmt.Errorf("sell %s: no reference price", r.ProductID)
	}
	if r.Size <= 0 {
		return nil, fmt.Errorf("sell %s: non-positive size %v", r.ProductID, r.Size)
	}

	m.mu.Lock()
	inc := m.quoteInc[r.ProductID]
	m.mu.Unlock()

	req := model.OrderRequest{
		ClientOID: uuid.NewString(),
		ProductID: r.ProductID,
		Side:      model.SideSell,
		Type:      model.OrderTypeLimit,
		Size:      FormatSize(r.Size, ""),
		Price:     FormatPrice(CalcLimitPrice(r.Price, r.Margin), inc),
		PostOnly:  false,
	}
	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	o, err := m.ex.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place limit sell %s: %w", r.ProductID, err)
	}

	m.mu.Lock()
	m.orders.track(*o, r.Price, r.Replaces)
	m.mu.Unlock()

	m.logger.Info("Limit sell placed",
		zap.String("order_id", o.ID),
		zap.String("product", r.ProductID),
		zap.String("size", req.Size),
		zap.String("limit", req.Price),
		zap.String("replaces", r.Replaces))
	return o, nil
}

// SellAfterBuy 等待买单成交后挂出止盈卖单。价格优先使用成交均价，其次是买入时的参考价 refPrice
func (m *Manager) SellAfterBuy(ctx context.Context, buy *model.Order, refPrice, margin float64) (*model.Order, error) {
	filled, err := m.AwaitFill(ctx, buy.ID)
	if err != nil {
		return nil, err
	}
	price := refPrice
	if p := filled.FillPrice(); p > 0 {
		price = p
	}
	return m.Sell(ctx, SellRequest{
		ProductID: filled.ProductID,
		Size:      filled.FilledSize,
		Price:     price,
		Margin:    margin,
	})
}

// Remargin 对每个挂着的限价卖单：按 margin 还原原始价格，止损价 = 原始价 / (1+stopMargin)。
// ticker 跌到止损价或 force 时先撤单，再以 ExitMargin 在现价附近重新挂单。返回新挂出的订单
func (m *Manager) Remargin(ctx context.Context, margin, stopMargin float64, force bool) []model.Order {
	orders, err := m.fetchOpen(ctx)
	if err != nil {
		m.logger.Error("Remargin failed", zap.Error(err))
		return nil
	}

	out := make([]model.Order, 0)
	for _, o := range orders {
		if o.Side != model.SideSell || o.Type != model.OrderTypeLimit || o.Price <= 0 {
			continue
		}
		price, err := m.tickerPrice(ctx, o.ProductID)
		if err != nil {
			m.logger.Warn("Remargin skipped order, ticker unavailable", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}

		original := o.Price / (1 + margin)
		stop := original / (1 + stopMargin)
		if !force && price > stop {
			continue
		}

		replacement, err := m.replace(ctx, o, price, StateRemargined)
		if err != nil {
			m.logger.Error("Remargin replacement failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		out = append(out, *replacement)
	}
	return out
}

// AbandonStale 每调用一次即一轮对账，挂单计数加一；超过 maxRounds 的卖单撤销并在现价附近重新挂出。
// maxRounds 为 0 时不启用
func (m *Manager) AbandonStale(ctx context.Context, maxRounds int) []model.Order {
	if maxRounds <= 0 {
		return nil
	}
	orders, err := m.fetchOpen(ctx)
	if err != nil {
		m.logger.Error("Stale order check failed", zap.Error(err))
		return nil
	}

	var stale []model.Order
	m.mu.Lock()
	live := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		live[o.ID] = struct{}{}
		e := m.orders.adopt(o)
		e.Rounds++
		if e.Rounds > maxRounds && o.Side == model.SideSell {
			stale = append(stale, o)
		}
	}
	for id := range m.orders.entries {
		if _, ok := live[id]; !ok {
			delete(m.orders.entries, id)
		}
	}
	m.mu.Unlock()

	out := make([]model.Order, 0, len(stale))
	for _, o := range stale {
		price, err := m.tickerPrice(ctx, o.ProductID)
		if err != nil {
			m.logger.Warn("Abandon skipped order, ticker unavailable", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		replacement, err := m.replace(ctx, o, price, StateAbandoned)
		if err != nil {
			m.logger.Error("Abandon replacement failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		out = append(out, *replacement)
	}
	return out
}

// CleanOrphans 把没有挂单覆盖的可用持仓在现价附近挂出。低于最小下单量的余额记录后跳过
func (m *Manager) CleanOrphans(ctx context.Context, holdings map[string]float64, instruments []model.InstrumentSnapshot) []model.Order {
	byID := make(map[string]model.InstrumentSnapshot, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}
	currencies := make([]string, 0, len(holdings))
	for c := range holdings {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	out := make([]model.Order, 0)
	for _, currency := range currencies {
		amount := holdings[currency]
		productID := currency + "-" + m.cfg.QuoteCurrency
		inst, ok := byID[productID]
		if !ok {
			m.logger.Debug("No tradable instrument for orphaned balance", zap.String("currency", currency), zap.Float64("amount", amount))
			continue
		}
		size := TruncateToIncrement(amount, inst.Increment)
		if size < inst.Min || size <= 0 {
			m.logger.Warn("Orphaned balance below minimum size, leaving it",
				zap.String("product", productID),
				zap.Float64("amount", amount),
				zap.Float64("min", inst.Min))
			continue
		}

		price, err := m.tickerPrice(ctx, productID)
		if err != nil {
			m.logger.Warn("Orphan cleanup skipped, ticker unavailable", zap.String("product", productID), zap.Error(err))
			continue
		}
		m.logger.Info("Selling orphaned balance", zap.String("product", productID), zap.Float64("size", size))
		o, err := m.Sell(ctx, SellRequest{
			ProductID: productID,
			Size:      size,
			Price:     price,
			Margin:    m.cfg.ExitMargin,
		})
		if err != nil {
			m.logger.Error("Orphan cleanup failed", zap.String("product", productID), zap.Error(err))
			continue
		}
		out = append(out, *o)
	}
	return out
}

// replace 先撤单再挂新单，顺序不可颠倒
func (m *Manager) replace(ctx context.Context, o model.Order, price float64, state OrderState) (*model.Order, error) {
	remaining := o.Size - o.FilledSize
	if remaining <= 0 {
		return nil, fmt.Errorf("order %s has nothing left to sell", o.ID)
	}
	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	if err := m.ex.CancelOrder(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", o.ID, err)
	}

	m.mu.Lock()
	m.orders.adopt(o)
	m.transitionLocked(o.ID, state)
	m.mu.Unlock()

	replacement, err := m.Sell(ctx, SellRequest{
		ProductID: o.ProductID,
		Size:      remaining,
		Price:     price,
		Margin:    m.cfg.ExitMargin,
		Replaces:  o.ID,
	})
	if err != nil {
		// 已撤单但未能重新挂出，下一轮的孤儿清理会接手这部分持仓
		return nil, err
	}
	return replacement, nil
}

func (m *Manager) fetchOpen(ctx context.Context) ([]model.Order, error) {
	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	orders, err := m.ex.GetOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return orders, nil
}

func (m *Manager) tickerPrice(ctx context.Context, productID string) (float64, error) {
	if err := m.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	t, err := m.ex.GetProductTicker(ctx, productID)
	if err != nil {
		return 0, err
	}
	return t.Price, nil
}

func (m *Manager) transitionLocked(id string, to OrderState) {
	from, err := m.orders.transition(id, to)
	if err != nil {
		m.logger.Warn("Order state transition rejected", zap.Error(err))
		return
	}
	m.logger.Info("Order state transition",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}
