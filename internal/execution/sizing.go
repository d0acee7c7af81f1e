package execution

import (
	"github.com/shopspring/decimal"
)

const (
	defaultSizePlaces  = 8
	defaultPricePlaces = 2
	maxPlaces          = 18
)

// CalcSize 下单数量 = cash × fraction / price
func CalcSize(price, cash, fraction float64) float64 {
	if price <= 0 {
		return 0
	}
	return cash * fraction / price
}

// IsValidSize 数量必须严格大于交易所最小下单量
func IsValidSize(size, minSize float64) bool {
	return size > minSize
}

// CalcLimitPrice 限价 = price × (1 + margin)
func CalcLimitPrice(price, margin float64) float64 {
	return price * (1 + margin)
}

// incrementPlaces 由步长字符串推导保留的小数位：
// "0.0010000" -> 3，"1.0000000" -> 0，"0.010000000" -> 2
func incrementPlaces(increment string, fallback int32) int32 {
	inc, err := decimal.NewFromString(increment)
	if err != nil || !inc.IsPositive() {
		return fallback
	}
	one := decimal.NewFromInt(1)
	var places int32
	for inc.LessThan(one) && places < maxPlaces {
		inc = inc.Shift(1)
		places++
	}
	return places
}

// RoundToIncrement 按步长的小数位四舍五入
func RoundToIncrement(size float64, increment string) float64 {
	places := incrementPlaces(increment, defaultSizePlaces)
	return decimal.NewFromFloat(size).Round(places).InexactFloat64()
}

// TruncateToIncrement 按步长的小数位截断，卖出持仓时使用，避免超过可用余额
func TruncateToIncrement(size float64, increment string) float64 {
	places := incrementPlaces(increment, defaultSizePlaces)
	return decimal.NewFromFloat(size).Truncate(places).InexactFloat64()
}

// FormatSize 下单数量字符串
func FormatSize(size float64, increment string) string {
	places := incrementPlaces(increment, defaultSizePlaces)
	return decimal.NewFromFloat(size).Round(places).String()
}

// FormatPrice 限价字符串，按报价步长取小数位，未知时保留 2 位
func FormatPrice(price float64, quoteIncrement string) string {
	places := incrementPlaces(quoteIncrement, defaultPricePlaces)
	return decimal.NewFromFloat(price).StringFixed(places)
}
