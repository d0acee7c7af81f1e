package api

import (
	"context"
	"crypto-swing-trader/internal/model"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MarketCapClient CoinMarketCap 市值排行
type MarketCapClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewMarketCapClient(baseURL, apiKey string, timeout time.Duration) *MarketCapClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarketCapClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

type listingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []struct {
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
		CMCRank int    `json:"cmc_rank"`
	} `json:"data"`
}

// GetTopCoins 按市值排名返回前 limit 个币种
func (c *MarketCapClient) GetTopCoins(ctx context.Context, limit int) ([]model.TopCoin, error) {
	q := url.Values{
		"start":   []string{"1"},
		"limit":   []string{strconv.Itoa(limit)},
		"convert": []string{"USD"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/cryptocurrency/listings/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: top coins: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, classify(&Error{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(b))})
	}

	var body listingsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode top coins: %w", err)
	}
	if body.Status.ErrorCode != 0 {
		return nil, &Error{StatusCode: res.StatusCode, Message: body.Status.ErrorMessage}
	}

	out := make([]model.TopCoin, 0, len(body.Data))
	for _, d := range body.Data {
		out = append(out, model.TopCoin{Symbol: d.Symbol, Name: d.Name, Rank: d.CMCRank})
	}
	return out, nil
}
