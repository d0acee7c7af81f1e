package execution

import (
	"crypto-swing-trader/internal/model"
	"fmt"
	"time"
)

// OrderState 单个订单在引擎侧的生命周期状态
type OrderState string

const (
	StateOpenBuy    OrderState = "OPEN_BUY"
	StateFilledBuy  OrderState = "FILLED_BUY"
	StateOpenSell   OrderState = "OPEN_SELL"
	StateRemargined OrderState = "REMARGINED" // 已撤单，由新的限价卖单替换
	StateAbandoned  OrderState = "ABANDONED"  // 挂单过久，撤单后按市价附近重新挂出
	StateFilledSell OrderState = "FILLED_SELL"
	StateCanceled   OrderState = "CANCELED"
)

// transitions 合法的状态迁移表
var transitions = map[OrderState][]OrderState{
	StateOpenBuy:  {StateFilledBuy, StateCanceled},
	StateOpenSell: {StateFilledSell, StateRemargined, StateAbandoned, StateCanceled},
}

// Terminal 终态订单会从跟踪表中移除
func (s OrderState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func canTransition(from, to OrderState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TrackedOrder 跟踪表中的一项。Rounds 为该订单连续出现在对账中的轮数
type TrackedOrder struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Side       model.Side `json:"side"`
	State      OrderState `json:"state"`
	Size       float64    `json:"size"`
	LimitPrice float64    `json:"limit_price,omitempty"`
	RefPrice   float64    `json:"ref_price,omitempty"` // 买入时的 ticker 价格
	Rounds     int        `json:"rounds"`
	Replaces   string     `json:"replaces,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func openStateFor(side model.Side) OrderState {
	if side == model.SideBuy {
		return StateOpenBuy
	}
	return StateOpenSell
}

// table 订单 ID -> 状态。只保存仍在挂单中的订单，进入终态即删除
type table struct {
	entries map[string]*TrackedOrder
	now     func() time.Time
}

func newTable(now func() time.Time) *table {
	return &table{entries: make(map[string]*TrackedOrder), now: now}
}

func (t *table) track(o model.Order, refPrice float64, replaces string) *TrackedOrder {
	e := &TrackedOrder{
		ID:         o.ID,
		ProductID:  o.ProductID,
		Side:       o.Side,
		State:      openStateFor(o.Side),
		Size:       o.Size,
		LimitPrice: o.Price,
		RefPrice:   refPrice,
		Replaces:   replaces,
		UpdatedAt:  t.now(),
	}
	t.entries[o.ID] = e
	return e
}

// adopt 对账时发现的未知挂单（例如进程重启前下的单）
func (t *table) adopt(o model.Order) *TrackedOrder {
	if e, ok := t.entries[o.ID]; ok {
		return e
	}
	return t.track(o, 0, "")
}

// transition 迁移状态，进入终态时删除条目
func (t *table) transition(id string, to OrderState) (from OrderState, err error) {
	e, ok := t.entries[id]
	if !ok {
		return "", fmt.Errorf("order %s is not tracked", id)
	}
	if !canTransition(e.State, to) {
		return e.State, fmt.Errorf("illegal transition %s -> %s for order %s", e.State, to, id)
	}
	from = e.State
	e.State = to
	e.UpdatedAt = t.now()
	if to.Terminal() {
		delete(t.entries, id)
	}
	return from, nil
}
