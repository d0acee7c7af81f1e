package api

import (
	"context"
	"crypto-swing-trader/internal/model"
	"errors"
	"fmt"
	"net/http"
)

// Exchange 引擎依赖的全部交易所原语，行情与下单统一走这一个接口
type Exchange interface {
	GetProducts(ctx context.Context) ([]model.Product, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetProductTicker(ctx context.Context, productID string) (*model.Ticker, error)
	GetProduct24HrStats(ctx context.Context, productID string) (*model.Stats, error)
	// GetProductHistoricRates 返回按时间从旧到新排序的 K 线
	GetProductHistoricRates(ctx context.Context, productID string, params model.HistoricRatesParams) ([]model.Candle, error)
	// GetOrders 返回当前所有未完成订单
	GetOrders(ctx context.Context) ([]model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Ranking 外部市值排行数据源
type Ranking interface {
	GetTopCoins(ctx context.Context, limit int) ([]model.TopCoin, error)
}

// ErrTransient 网络错误、限流、交易所 5xx，可以重试
var ErrTransient = errors.New("transient exchange error")

// Error 交易所返回的结构化错误
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.StatusCode, e.Message)
}

// Temporary 429 和 5xx 视为临时错误
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound 订单或交易对不存在
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func classify(err *Error) error {
	if err.Temporary() {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
