package api

import (
	"bytes"
	"context"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/service"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// CoinbaseConfig Coinbase Exchange REST 连接信息
type CoinbaseConfig struct {
	RESTURL    string
	APIKey     string
	SecretKey  string // base64 编码
	Passphrase string
	Timeout    time.Duration
}

// CoinbaseClient 实现 Exchange，请求使用 CB-ACCESS-* HMAC 签名
type CoinbaseClient struct {
	baseURL    string
	hc         *http.Client
	apiKey     string
	secret     []byte
	passphrase string
	now        func() time.Time
	logger     *zap.Logger
}

// NewCoinbaseClient secret 不是合法 base64 时返回错误
func NewCoinbaseClient(cfg CoinbaseConfig, logger *zap.Logger) (*CoinbaseClient, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CoinbaseClient{
		baseURL:    strings.TrimRight(cfg.RESTURL, "/"),
		hc:         &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		secret:     secret,
		passphrase: cfg.Passphrase,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "coinbase")),
	}, nil
}

// sign 返回 base64(HMAC-SHA256(secret, timestamp + method + requestPath + body))
func (c *CoinbaseClient) sign(timestamp, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp + method + requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *CoinbaseClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "crypto-swing-trader")
	if c.apiKey != "" {
		ts := strconv.FormatInt(c.now().Unix(), 10)
		req.Header.Set("CB-ACCESS-KEY", c.apiKey)
		req.Header.Set("CB-ACCESS-SIGN", c.sign(ts, method, requestPath, body))
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
		req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var payload struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		return classify(&Error{StatusCode: res.StatusCode, Message: msg})
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type productWire struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	BaseMinSize     string `json:"base_min_size"`
	BaseIncrement   string `json:"base_increment"`
	QuoteIncrement  string `json:"quote_increment"`
	LimitOnly       bool   `json:"limit_only"`
	TradingDisabled bool   `json:"trading_disabled"`
}

func (c *CoinbaseClient) GetProducts(ctx context.Context) ([]model.Product, error) {
	var wire []productWire
	if err := c.do(ctx, http.MethodGet, "/products", nil, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Product, 0, len(wire))
	for _, p := range wire {
		minSize, _ := service.StringToFloat(p.BaseMinSize)
		out = append(out, model.Product{
			ID:              p.ID,
			BaseCurrency:    p.BaseCurrency,
			QuoteCurrency:   p.QuoteCurrency,
			BaseMinSize:     minSize,
			BaseIncrement:   p.BaseIncrement,
			QuoteIncrement:  p.QuoteIncrement,
			LimitOnly:       p.LimitOnly,
			TradingDisabled: p.TradingDisabled,
		})
	}
	return out, nil
}

type accountWire struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

func (c *CoinbaseClient) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var wire []accountWire
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(wire))
	for _, a := range wire {
		balance, _ := service.StringToFloat(a.Balance)
		available, _ := service.StringToFloat(a.Available)
		hold, _ := service.StringToFloat(a.Hold)
		out = append(out, model.Account{
			ID:        a.ID,
			Currency:  a.Currency,
			Balance:   balance,
			Available: available,
			Hold:      hold,
		})
	}
	return out, nil
}

func (c *CoinbaseClient) GetProductTicker(ctx context.Context, productID string) (*model.Ticker, error) {
	var wire struct {
		Price  string    `json:"price"`
		Bid    string    `json:"bid"`
		Ask    string    `json:"ask"`
		Volume string    `json:"volume"`
		Time   time.Time `json:"time"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/ticker", nil, nil, &wire); err != nil {
		return nil, err
	}
	price, err := service.StringToFloat(wire.Price)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("ticker %s: unusable price %q", productID, wire.Price)
	}
	bid, _ := service.StringToFloat(wire.Bid)
	ask, _ := service.StringToFloat(wire.Ask)
	vol, _ := service.StringToFloat(wire.Volume)
	return &model.Ticker{ProductID: productID, Price: price, Bid: bid, Ask: ask, Volume: vol, Time: wire.Time}, nil
}

func (c *CoinbaseClient) GetProduct24HrStats(ctx context.Context, productID string) (*model.Stats, error) {
	var wire struct {
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Last   string `json:"last"`
		Volume string `json:"volume"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/stats", nil, nil, &wire); err != nil {
		return nil, err
	}
	open, _ := service.StringToFloat(wire.Open)
	high, _ := service.StringToFloat(wire.High)
	low, _ := service.StringToFloat(wire.Low)
	last, _ := service.StringToFloat(wire.Last)
	vol, _ := service.StringToFloat(wire.Volume)
	return &model.Stats{Open: open, High: high, Low: low, Last: last, Volume: vol}, nil
}

// GetProductHistoricRates 交易所按时间倒序返回 [time, low, high, open, close, volume]，这里翻转为正序
func (c *CoinbaseClient) GetProductHistoricRates(ctx context.Context, productID string, params model.HistoricRatesParams) ([]model.Candle, error) {
	q := url.Values{}
	if !params.Start.IsZero() {
		q.Set("start", params.Start.UTC().Format(time.RFC3339))
	}
	if !params.End.IsZero() {
		q.Set("end", params.End.UTC().Format(time.RFC3339))
	}
	if params.Granularity > 0 {
		q.Set("granularity", strconv.Itoa(params.Granularity))
	}

	var rows [][]any
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/candles", q, nil, &rows); err != nil {
		return nil, err
	}
	return parseCandles(rows)
}

func parseCandles(rows [][]any) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("malformed candle row %d: %v", i, row)
		}
		var vals [6]float64
		for j := range vals {
			v, err := service.StringToFloat(row[j])
			if err != nil {
				return nil, fmt.Errorf("candle row %d col %d: %w", i, j, err)
			}
			vals[j] = v
		}
		out = append(out, model.Candle{
			Time:   time.Unix(int64(vals[0]), 0).UTC(),
			Low:    vals[1],
			High:   vals[2],
			Open:   vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return out, nil
}

type orderWire struct {
	ID            string    `json:"id"`
	ClientOID     string    `json:"client_oid"`
	ProductID     string    `json:"product_id"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Price         string    `json:"price"`
	Size          string    `json:"size"`
	FilledSize    string    `json:"filled_size"`
	ExecutedValue string    `json:"executed_value"`
	Status        string    `json:"status"`
	DoneReason    string    `json:"done_reason"`
	Settled       bool      `json:"settled"`
	CreatedAt     time.Time `json:"created_at"`
}

func (w orderWire) toModel() model.Order {
	price, _ := service.StringToFloat(w.Price)
	size, _ := service.StringToFloat(w.Size)
	filled, _ := service.StringToFloat(w.FilledSize)
	executed, _ := service.StringToFloat(w.ExecutedValue)
	return model.Order{
		ID:            w.ID,
		ClientOID:     w.ClientOID,
		ProductID:     w.ProductID,
		Side:          model.Side(w.Side),
		Type:          model.OrderType(w.Type),
		Price:         price,
		Size:          size,
		FilledSize:    filled,
		ExecutedValue: executed,
		Status:        w.Status,
		DoneReason:    w.DoneReason,
		Settled:       w.Settled,
		CreatedAt:     w.CreatedAt,
	}
}

func (c *CoinbaseClient) GetOrders(ctx context.Context) ([]model.Order, error) {
	q := url.Values{"status": []string{model.OrderStatusOpen, model.OrderStatusPending, model.OrderStatusActive}}
	var wire []orderWire
	if err := c.do(ctx, http.MethodGet, "/orders", q, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

func (c *CoinbaseClient) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var wire orderWire
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &wire); err != nil {
		return nil, err
	}
	o := wire.toModel()
	return &o, nil
}

type placeOrderWire struct {
	ClientOID string `json:"client_oid,omitempty"`
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
	PostOnly  *bool  `json:"post_only,omitempty"`
}

func (c *CoinbaseClient) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	in := placeOrderWire{
		ClientOID: req.ClientOID,
		ProductID: req.ProductID,
		Side:      string(req.Side),
		Type:      string(req.Type),
		Size:      req.Size,
		Price:     req.Price,
	}
	if req.Type == model.OrderTypeLimit {
		postOnly := req.PostOnly
		in.PostOnly = &postOnly
	}

	var wire orderWire
	if err := c.do(ctx, http.MethodPost, "/orders", nil, in, &wire); err != nil {
		return nil, err
	}
	o := wire.toModel()
	c.logger.Debug("Order accepted", zap.String("order_id", o.ID), zap.String("product", o.ProductID), zap.String("side", string(o.Side)))
	return &o, nil
}

func (c *CoinbaseClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil, nil)
}
