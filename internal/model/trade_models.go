package model

import (
	"fmt"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// 交易所订单状态
const (
	OrderStatusPending  = "pending"
	OrderStatusOpen     = "open"
	OrderStatusActive   = "active"
	OrderStatusDone     = "done"
	OrderStatusRejected = "rejected"
)

// done 订单的结束原因
const (
	DoneReasonFilled   = "filled"
	DoneReasonCanceled = "canceled"
)

// Order 交易所侧的订单记录，只能通过交易所调用更新，引擎从不自行伪造成交
type Order struct {
	ID            string    `json:"id"`
	ClientOID     string    `json:"client_oid,omitempty"`
	ProductID     string    `json:"product_id"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Price         float64   `json:"price,omitempty"`
	Size          float64   `json:"size"`
	FilledSize    float64   `json:"filled_size"`
	ExecutedValue float64   `json:"executed_value"`
	Status        string    `json:"status"`
	DoneReason    string    `json:"done_reason,omitempty"`
	Settled       bool      `json:"settled"`
	CreatedAt     time.Time `json:"created_at"`
}

// FillPrice 返回成交均价，没有成交时返回 0
func (o Order) FillPrice() float64 {
	if o.FilledSize <= 0 || o.ExecutedValue <= 0 {
		return 0
	}
	return o.ExecutedValue / o.FilledSize
}

func (o Order) String() string {
	return fmt.Sprintf("ORDER [%s | %s %s] %s @ %.8g | Size: %.8g | Filled: %.8g | %s",
		o.ID, o.Side, o.Type, o.ProductID, o.Price, o.Size, o.FilledSize, o.Status)
}

// OrderRequest 下单请求。Size/Price 已按交易对精度格式化
type OrderRequest struct {
	ClientOID string
	ProductID string
	Side      Side
	Type      OrderType
	Size      string
	Price     string // 仅限价单
	PostOnly  bool
}

// InstrumentSnapshot 单个交易对在本轮的指标快照，计算后不可变，下一轮丢弃
type InstrumentSnapshot struct {
	ID             string  `json:"id"`
	BaseCurrency   string  `json:"baseCurrency"`
	Price          float64 `json:"price"`
	Min            float64 `json:"min"`
	Increment      string  `json:"inc"`
	QuoteIncrement string  `json:"quoteInc"`
	Change         float64 `json:"change"`
	Volatility     float64 `json:"volatility"`
	VWAP           float64 `json:"vwap"`      // 相对 VWAP 偏离 (price-vwap)/vwap
	ShortVWAP      float64 `json:"shortVwap"` // 短窗口相对 VWAP 偏离
	Slope          float64 `json:"slope"`     // 长窗口斜率 / price
	ShortSlope     float64 `json:"shortSlope"`
	SlopeCategory  int     `json:"slopeCategory"`
	RelativeVolume float64 `json:"relativeVolume"`
	RSI            float64 `json:"rsi"`
	CompositeScore float64 `json:"compositeScore"`
}

// MarketSnapshot 一轮循环的市场全貌
type MarketSnapshot struct {
	Time                time.Time            `json:"time"`
	Cash                float64              `json:"cash"`
	Crypto              map[string]float64   `json:"crypto"`
	Instruments         []InstrumentSnapshot `json:"products"`
	MarketGain          float64              `json:"marketGain"`
	MarketSlope         float64              `json:"marketSlope"`
	MarketSlopeCategory int                  `json:"marketSlopeCategory"`
}

// NewMarketSnapshot 返回结构完整的空快照
func NewMarketSnapshot(t time.Time) *MarketSnapshot {
	return &MarketSnapshot{
		Time:        t,
		Crypto:      make(map[string]float64),
		Instruments: make([]InstrumentSnapshot, 0),
	}
}

// Instrument 按 ID 查找交易对快照
func (s *MarketSnapshot) Instrument(id string) (InstrumentSnapshot, bool) {
	for _, inst := range s.Instruments {
		if inst.ID == id {
			return inst, true
		}
	}
	return InstrumentSnapshot{}, false
}
