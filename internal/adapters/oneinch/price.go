// Package oneinch quotes token prices from the 1inch spot price API.
package oneinch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/liqshield/internal/adapters/apiclient"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL      = "https://api.1inch.dev"
	defaultRate         = 1 // free tier: 1 rps
	defaultFetchTimeout = 30 * time.Second
)

// Config configures the price client.
type Config struct {
	BaseURL  string
	APIKey   string
	ChainID  int64
	Currency string // quote currency, USD by default
	Client   apiclient.Options

	// FetchTimeout bounds a lookup shared by concurrent callers, retries
	// included.
	FetchTimeout time.Duration
}

// PriceClient implements ports.PriceOracle against
// GET {base}/price/v1.1/{chainId}/{a},{b}?currency=USD.
type PriceClient struct {
	api      *apiclient.Client
	base     string
	chainID  int64
	currency string
	timeout  time.Duration
	group    singleflight.Group
}

// NewPriceClient builds a client. Identical concurrent lookups share one
// request.
func NewPriceClient(cfg Config) *PriceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Client.RatePerSec == 0 {
		cfg.Client.RatePerSec = defaultRate
	}
	if cfg.APIKey != "" {
		headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
		for k, v := range cfg.Client.Headers {
			headers[k] = v
		}
		cfg.Client.Headers = headers
	}
	return &PriceClient{
		api:      apiclient.New(cfg.Client),
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		chainID:  cfg.ChainID,
		currency: cfg.Currency,
		timeout:  cfg.FetchTimeout,
	}
}

func (c *PriceClient) Name() string { return "oneinch" }

// SpotPrices returns the quote-currency prices of maker and taker.
func (c *PriceClient) SpotPrices(ctx context.Context, maker, taker common.Address) (domain.PairPrice, error) {
	a, b := lower(maker), lower(taker)
	key := a + "," + b

	// The shared lookup outlives any one caller; each caller stops waiting
	// when its own ctx is done.
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fetchCtx, []string{a, b})
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return domain.PairPrice{}, fmt.Errorf("oneinch.SpotPrices: %w: %v", domain.ErrOracleUnavailable, ctx.Err())
	}
	if res.Err != nil {
		return domain.PairPrice{}, res.Err
	}
	prices := res.Val.(map[string]decimal.Decimal)

	makerPrice, ok := prices[a]
	if !ok {
		return domain.PairPrice{}, fmt.Errorf("oneinch.SpotPrices: %w: no price for %s", domain.ErrOracleDataMissing, a)
	}
	takerPrice, ok := prices[b]
	if !ok {
		return domain.PairPrice{}, fmt.Errorf("oneinch.SpotPrices: %w: no price for %s", domain.ErrOracleDataMissing, b)
	}
	return domain.PairPrice{Maker: makerPrice, Taker: takerPrice}, nil
}

func (c *PriceClient) fetch(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	u := fmt.Sprintf("%s/price/v1.1/%d/%s?currency=%s",
		c.base, c.chainID, strings.Join(tokens, ","), url.QueryEscape(c.currency))

	var raw map[string]decimal.Decimal
	if err := c.api.GetJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("oneinch.SpotPrices: %w: %v", domain.ErrOracleUnavailable, err)
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }
