package model

import "time"

// Candle 代表一根 K 线，交易所返回的原始格式为 [time, low, high, open, close, volume]
type Candle struct {
	Time   time.Time
	Low    float64
	High   float64
	Open   float64
	Close  float64
	Volume float64
}

// Product 交易所的交易对元数据
type Product struct {
	ID              string
	BaseCurrency    string
	QuoteCurrency   string
	BaseMinSize     float64
	BaseIncrement   string // 保留原始字符串，用于推导下单数量的小数位
	QuoteIncrement  string
	LimitOnly       bool
	TradingDisabled bool
}

// Ticker 最新成交价快照
type Ticker struct {
	ProductID string
	Price     float64
	Bid       float64
	Ask       float64
	Volume    float64
	Time      time.Time
}

// Stats 24 小时统计
type Stats struct {
	Open   float64
	High   float64
	Low    float64
	Last   float64
	Volume float64
}

// Account 单个币种的账户余额
type Account struct {
	ID        string
	Currency  string
	Balance   float64
	Available float64
	Hold      float64
}

// HistoricRatesParams 历史 K 线查询参数，Granularity 单位为秒
type HistoricRatesParams struct {
	Start       time.Time
	End         time.Time
	Granularity int
}

// TopCoin 市值排行中的一项
type TopCoin struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Rank   int    `json:"rank"`
}
