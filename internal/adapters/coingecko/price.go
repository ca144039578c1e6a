// Package coingecko quotes ERC-20 prices from CoinGecko's token_price API.
package coingecko

import (
	"context"
	"fmt"
	"strings"

	"github.com/alejandrodnm/liqshield/internal/adapters/apiclient"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.coingecko.com"

// Config configures the client. Platform is the CoinGecko asset platform
// id, e.g. "base" or "ethereum".
type Config struct {
	BaseURL  string
	APIKey   string
	Platform string
	Currency string
	Client   apiclient.Options
}

// Client implements ports.PriceOracle.
type Client struct {
	api      *apiclient.Client
	base     string
	platform string
	currency string
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Platform == "" {
		cfg.Platform = "base"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.APIKey != "" {
		headers := map[string]string{"x-cg-demo-api-key": cfg.APIKey}
		for k, v := range cfg.Client.Headers {
			headers[k] = v
		}
		cfg.Client.Headers = headers
	}
	return &Client{
		api:      apiclient.New(cfg.Client),
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		platform: cfg.Platform,
		currency: strings.ToLower(cfg.Currency),
	}
}

func (c *Client) Name() string { return "coingecko" }

func (c *Client) SpotPrices(ctx context.Context, maker, taker common.Address) (domain.PairPrice, error) {
	a := strings.ToLower(maker.Hex())
	b := strings.ToLower(taker.Hex())
	u := fmt.Sprintf("%s/api/v3/simple/token_price/%s?contract_addresses=%s,%s&vs_currencies=%s",
		c.base, c.platform, a, b, c.currency)

	var raw map[string]map[string]decimal.Decimal
	if err := c.api.GetJSON(ctx, u, &raw); err != nil {
		return domain.PairPrice{}, fmt.Errorf("coingecko.SpotPrices: %w: %v", domain.ErrOracleUnavailable, err)
	}
	prices := make(map[string]decimal.Decimal, len(raw))
	for addr, quotes := range raw {
		if p, ok := quotes[c.currency]; ok {
			prices[strings.ToLower(addr)] = p
		}
	}

	makerPrice, ok := prices[a]
	if !ok {
		return domain.PairPrice{}, fmt.Errorf("coingecko.SpotPrices: %w: no price for %s", domain.ErrOracleDataMissing, a)
	}
	takerPrice, ok := prices[b]
	if !ok {
		return domain.PairPrice{}, fmt.Errorf("coingecko.SpotPrices: %w: no price for %s", domain.ErrOracleDataMissing, b)
	}
	return domain.PairPrice{Maker: makerPrice, Taker: takerPrice}, nil
}
