package ta

// SlopeCategory 把相对斜率离散成 5 档，便于不同价格量级的交易对横向比较
type SlopeCategory int

const (
	StrongBear SlopeCategory = iota + 1
	Bear
	Flat
	Bull
	StrongBull
)

const (
	strongThreshold = 0.0001
	flatThreshold   = 0.00001
)

func (c SlopeCategory) String() string {
	switch c {
	case StrongBear:
		return "STRONG_BEAR"
	case Bear:
		return "BEAR"
	case Flat:
		return "FLAT"
	case Bull:
		return "BULL"
	case StrongBull:
		return "STRONG_BULL"
	}
	return "UNKNOWN"
}

// CategorizeSlope 阈值为 ±0.0001 和 ±0.00001，左闭右开
func CategorizeSlope(slope float64) SlopeCategory {
	switch {
	case slope < -strongThreshold:
		return StrongBear
	case slope < -flatThreshold:
		return Bear
	case slope < flatThreshold:
		return Flat
	case slope < strongThreshold:
		return Bull
	default:
		return StrongBull
	}
}
