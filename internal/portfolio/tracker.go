package portfolio

import (
	"sync"
)

// Status 对外报告用的只读副本
type Status struct {
	Gain     float64            `json:"gain"`
	Value    float64            `json:"value"`
	Baseline float64            `json:"baseline"`
	Frozen   bool               `json:"frozen"`
	Balances map[string]float64 `json:"balances"`
	Prices   map[string]float64 `json:"prices"`
}

// Tracker 跟踪自上次重置以来的收益，并实现 walk-away 熔断标志。
// 所有读写都经过同一把锁，compute 与 reset 不会交错
type Tracker struct {
	mu       sync.Mutex
	quote    string
	balances map[string]float64
	prices   map[string]float64
	baseline float64
	value    float64
	gain     float64
	frozen   bool
}

// NewTracker quote 为计价货币，例如 "USD"
func NewTracker(quote string) *Tracker {
	return &Tracker{
		quote:    quote,
		balances: make(map[string]float64),
		prices:   make(map[string]float64),
	}
}

// SetBalances 用本轮账户余额整体替换
func (t *Tracker) SetBalances(balances map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[string]float64, len(balances))
	for k, v := range balances {
		t.balances[k] = v
	}
}

// SetPrice 记录某个币种的最新价格
func (t *Tracker) SetPrice(currency string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[currency] = price
}

// Compute 总价值 = Σ 持仓×价格 + 计价货币现金。
// 重置后的第一次计算设定基准，之后计算 gain = (value-baseline)/baseline
func (t *Tracker) Compute() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	value := t.balances[t.quote]
	for currency, price := range t.prices {
		if currency == t.quote {
			continue
		}
		if bal := t.balances[currency]; bal > 0 {
			value += bal * price
		}
	}
	t.value = value

	if t.baseline == 0 {
		t.baseline = value
	} else {
		t.gain = (value - t.baseline) / t.baseline
	}
	return t.gain
}

func (t *Tracker) Gain() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gain
}

// SetGain 运维手动覆盖收益
func (t *Tracker) SetGain(gain float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gain = gain
}

func (t *Tracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Freeze 单向操作，直到下一次 Reset
func (t *Tracker) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

func (t *Tracker) IsFrozen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frozen
}

// Reset 清空基准、收益和冻结标志，余额和价格保留
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseline = 0
	t.gain = 0
	t.frozen = false
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{
		Gain:     t.gain,
		Value:    t.value,
		Baseline: t.baseline,
		Frozen:   t.frozen,
		Balances: make(map[string]float64, len(t.balances)),
		Prices:   make(map[string]float64, len(t.prices)),
	}
	for k, v := range t.balances {
		s.Balances[k] = v
	}
	for k, v := range t.prices {
		s.Prices[k] = v
	}
	return s
}
