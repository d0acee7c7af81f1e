package api

import (
	"context"
	"crypto-swing-trader/internal/model"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketData 只读行情源，Coinbase 公共行情接口无需签名即可调用
type MarketData interface {
	GetProducts(ctx context.Context) ([]model.Product, error)
	GetProductTicker(ctx context.Context, productID string) (*model.Ticker, error)
	GetProduct24HrStats(ctx context.Context, productID string) (*model.Stats, error)
	GetProductHistoricRates(ctx context.Context, productID string, params model.HistoricRatesParams) ([]model.Candle, error)
}

// PaperExchange 内存撮合的模拟交易所。
// 市价买单按当前 ticker 立即成交，限价卖单在 ticker 达到限价时成交。
// 设置了 MarketData 时行情来自真实交易所，只有账户和订单是模拟的。
// 也用作测试替身：可以脚本化行情、暂停成交、注入错误
type PaperExchange struct {
	mu       sync.Mutex
	market   MarketData
	quote    string
	products []model.Product
	tickers  map[string]float64
	stats    map[string]model.Stats
	candles  map[string][]model.Candle
	accounts map[string]*model.Account
	orders   map[string]*model.Order
	canceled []string
	failures map[string][]error
	calls    map[string]int

	holdMarketFills bool
	now             func() time.Time
}

// NewPaperExchange 初始化计价货币余额为 cash 的模拟账户
func NewPaperExchange(quote string, cash float64) *PaperExchange {
	p := &PaperExchange{
		quote:    quote,
		tickers:  make(map[string]float64),
		stats:    make(map[string]model.Stats),
		candles:  make(map[string][]model.Candle),
		accounts: make(map[string]*model.Account),
		orders:   make(map[string]*model.Order),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
	p.SetBalance(quote, cash)
	return p
}

// UseMarket 之后的行情查询转发给 m
func (p *PaperExchange) UseMarket(m MarketData) *PaperExchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.market = m
	return p
}

// AddProduct 注册交易对并设置初始价格
func (p *PaperExchange) AddProduct(prod model.Product, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prod.QuoteCurrency == "" {
		prod.QuoteCurrency = p.quote
	}
	if prod.ID == "" {
		prod.ID = prod.BaseCurrency + "-" + prod.QuoteCurrency
	}
	p.products = append(p.products, prod)
	p.tickers[prod.ID] = price
}

// SetPrice 更新 ticker，并撮合所有达到限价的卖单
func (p *PaperExchange) SetPrice(productID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickers[productID] = price
	for _, o := range p.orders {
		if o.ProductID == productID && o.Side == model.SideSell && isOpen(o) && price >= o.Price {
			p.fillSellLocked(o, o.Price)
		}
	}
}

func (p *PaperExchange) SetStats(productID string, stats model.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats[productID] = stats
}

// SetCandles candles 需按时间从旧到新
func (p *PaperExchange) SetCandles(productID string, candles []model.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[productID] = append([]model.Candle(nil), candles...)
}

func (p *PaperExchange) SetBalance(currency string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.accountLocked(currency)
	acc.Available = amount
	acc.Balance = acc.Available + acc.Hold
}

// HoldMarketFills 为 true 时市价单挂起不成交
func (p *PaperExchange) HoldMarketFills(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdMarketFills = hold
}

// FillOrder 手动成交一个挂起的市价买单
func (p *PaperExchange) FillOrder(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || !isOpen(o) {
		return &Error{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if o.Side == model.SideBuy {
		p.fillBuyLocked(o, p.tickers[o.ProductID])
	} else {
		p.fillSellLocked(o, o.Price)
	}
	return nil
}

// FailNext 下一次调用 method 时返回 err，可叠加多次
func (p *PaperExchange) FailNext(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = append(p.failures[method], err)
}

// Calls 返回 method 被调用的次数
func (p *PaperExchange) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Canceled 返回已撤销的订单 ID
func (p *PaperExchange) Canceled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.canceled...)
}

// Orders 返回全部订单（含已成交）
func (p *PaperExchange) Orders() []model.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedOrdersLocked(func(*model.Order) bool { return true })
}

func (p *PaperExchange) enter(method string) error {
	p.calls[method]++
	if q := p.failures[method]; len(q) > 0 {
		p.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func (p *PaperExchange) accountLocked(currency string) *model.Account {
	acc, ok := p.accounts[currency]
	if !ok {
		acc = &model.Account{ID: uuid.NewString(), Currency: currency}
		p.accounts[currency] = acc
	}
	return acc
}

func (p *PaperExchange) productLocked(id string) (model.Product, bool) {
	for _, prod := range p.products {
		if prod.ID == id {
			return prod, true
		}
	}
	return model.Product{}, false
}

func isOpen(o *model.Order) bool {
	return o.Status == model.OrderStatusOpen || o.Status == model.OrderStatusPending
}

func (p *PaperExchange) sortedOrdersLocked(keep func(*model.Order) bool) []model.Order {
	out := make([]model.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (p *PaperExchange) GetProducts(ctx context.Context) ([]model.Product, error) {
	p.mu.Lock()
	market := p.market
	if err := p.enter("GetProducts"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if market == nil {
		defer p.mu.Unlock()
		return append([]model.Product(nil), p.products...), nil
	}
	p.mu.Unlock()

	products, err := market.GetProducts(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.products = append([]model.Product(nil), products...)
	p.mu.Unlock()
	return products, nil
}

func (p *PaperExchange) GetAccounts(ctx context.Context) ([]model.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetAccounts"); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(p.accounts))
	for _, acc := range p.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (p *PaperExchange) GetProductTicker(ctx context.Context, productID string) (*model.Ticker, error) {
	p.mu.Lock()
	market := p.market
	if err := p.enter("GetProductTicker"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if market != nil {
		p.mu.Unlock()
		t, err := market.GetProductTicker(ctx, productID)
		if err != nil {
			return nil, err
		}
		p.SetPrice(productID, t.Price)
		return t, nil
	}
	defer p.mu.Unlock()
	price, ok := p.tickers[productID]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Message: "NotFound"}
	}
	return &model.Ticker{ProductID: productID, Price: price, Bid: price, Ask: price, Time: p.now()}, nil
}

func (p *PaperExchange) GetProduct24HrStats(ctx context.Context, productID string) (*model.Stats, error) {
	p.mu.Lock()
	market := p.market
	if err := p.enter("GetProduct24HrStats"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if market != nil {
		p.mu.Unlock()
		return market.GetProduct24HrStats(ctx, productID)
	}
	defer p.mu.Unlock()
	price, ok := p.tickers[productID]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Message: "NotFound"}
	}
	if s, ok := p.stats[productID]; ok {
		return &s, nil
	}
	return &model.Stats{Open: price, High: price, Low: price, Last: price}, nil
}

func (p *PaperExchange) GetProductHistoricRates(ctx context.Context, productID string, params model.HistoricRatesParams) ([]model.Candle, error) {
	p.mu.Lock()
	market := p.market
	if err := p.enter("GetProductHistoricRates"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if market != nil {
		p.mu.Unlock()
		return market.GetProductHistoricRates(ctx, productID, params)
	}
	defer p.mu.Unlock()
	return append([]model.Candle(nil), p.candles[productID]...), nil
}

func (p *PaperExchange) GetOrders(ctx context.Context) ([]model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetOrders"); err != nil {
		return nil, err
	}
	return p.sortedOrdersLocked(isOpen), nil
}

func (p *PaperExchange) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := p.orders[orderID]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Message: "NotFound"}
	}
	cp := *o
	return &cp, nil
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("PlaceOrder"); err != nil {
		return nil, err
	}
	prod, ok := p.productLocked(req.ProductID)
	if !ok {
		return nil, &Error{StatusCode: http.StatusBadRequest, Message: "Invalid product_id"}
	}
	size, err := decimal.NewFromString(req.Size)
	if err != nil || !size.IsPositive() {
		return nil, &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("invalid size %q", req.Size)}
	}

	o := &model.Order{
		ID:        uuid.NewString(),
		ClientOID: req.ClientOID,
		ProductID: req.ProductID,
		Side:      req.Side,
		Type:      req.Type,
		Size:      size.InexactFloat64(),
		Status:    model.OrderStatusPending,
		CreatedAt: p.now(),
	}

	switch {
	case req.Side == model.SideBuy && req.Type == model.OrderTypeMarket:
		price := p.tickers[req.ProductID]
		cost := size.Mul(decimal.NewFromFloat(price)).InexactFloat64()
		quote := p.accountLocked(prod.QuoteCurrency)
		if quote.Available < cost {
			return nil, &Error{StatusCode: http.StatusBadRequest, Message: "Insufficient funds"}
		}
		p.orders[o.ID] = o
		if !p.holdMarketFills {
			p.fillBuyLocked(o, price)
		}
	case req.Side == model.SideSell && req.Type == model.OrderTypeLimit:
		price, err := decimal.NewFromString(req.Price)
		if err != nil || !price.IsPositive() {
			return nil, &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("invalid price %q", req.Price)}
		}
		base := p.accountLocked(prod.BaseCurrency)
		if base.Available < o.Size {
			return nil, &Error{StatusCode: http.StatusBadRequest, Message: "Insufficient funds"}
		}
		base.Available -= o.Size
		base.Hold += o.Size
		o.Price = price.InexactFloat64()
		o.Status = model.OrderStatusOpen
		p.orders[o.ID] = o
		if o.Price <= p.tickers[req.ProductID] {
			p.fillSellLocked(o, o.Price)
		}
	default:
		return nil, &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("unsupported order %s/%s", req.Side, req.Type)}
	}

	cp := *o
	return &cp, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CancelOrder"); err != nil {
		return err
	}
	o, ok := p.orders[orderID]
	if !ok || !isOpen(o) {
		return &Error{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if o.Side == model.SideSell {
		if prod, ok := p.productLocked(o.ProductID); ok {
			base := p.accountLocked(prod.BaseCurrency)
			base.Hold -= o.Size
			base.Available += o.Size
		}
	}
	delete(p.orders, orderID)
	p.canceled = append(p.canceled, orderID)
	return nil
}

func (p *PaperExchange) fillBuyLocked(o *model.Order, price float64) {
	prod, _ := p.productLocked(o.ProductID)
	cost := o.Size * price
	quote := p.accountLocked(prod.QuoteCurrency)
	quote.Available -= cost
	quote.Balance = quote.Available + quote.Hold
	base := p.accountLocked(prod.BaseCurrency)
	base.Available += o.Size
	base.Balance = base.Available + base.Hold

	o.FilledSize = o.Size
	o.ExecutedValue = cost
	o.Status = model.OrderStatusDone
	o.DoneReason = model.DoneReasonFilled
	o.Settled = true
}

func (p *PaperExchange) fillSellLocked(o *model.Order, price float64) {
	prod, _ := p.productLocked(o.ProductID)
	base := p.accountLocked(prod.BaseCurrency)
	base.Hold -= o.Size
	base.Balance = base.Available + base.Hold
	quote := p.accountLocked(prod.QuoteCurrency)
	quote.Available += o.Size * price
	quote.Balance = quote.Available + quote.Hold

	o.FilledSize = o.Size
	o.ExecutedValue = o.Size * price
	o.Status = model.OrderStatusDone
	o.DoneReason = model.DoneReasonFilled
	o.Settled = true
}
