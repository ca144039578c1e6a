// Package pricefeed composes price oracles: per-call timeouts, metrics, and a
// fallback chain across sources.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/ports"
	"github.com/ethereum/go-ethereum/common"
)

// Instrumented bounds each lookup by a timeout and counts outcomes.
type Instrumented struct {
	next    ports.PriceOracle
	timeout time.Duration
	metrics *observability.Metrics
}

// Instrument wraps next. A zero timeout leaves lookups unbounded.
func Instrument(next ports.PriceOracle, timeout time.Duration, m *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, timeout: timeout, metrics: m}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) SpotPrices(ctx context.Context, maker, taker common.Address) (domain.PairPrice, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	prices, err := i.next.SpotPrices(ctx, maker, taker)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrOracleUnavailable) {
		err = fmt.Errorf("%w: %s timed out: %v", domain.ErrOracleUnavailable, i.next.Name(), err)
	}
	i.metrics.OracleRequest(i.next.Name(), err)
	return prices, err
}

// Fallback tries each source in order and returns the first success.
type Fallback struct {
	sources []ports.PriceOracle
}

// NewFallback builds a chain. It needs at least one source.
func NewFallback(sources ...ports.PriceOracle) (*Fallback, error) {
	if len(sources) == 0 {
		return nil, errors.New("pricefeed.NewFallback: no sources")
	}
	return &Fallback{sources: sources}, nil
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.sources))
	for i, s := range f.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, ">")
}

// SpotPrices returns the first successful quote, or the joined errors of
// every source.
func (f *Fallback) SpotPrices(ctx context.Context, maker, taker common.Address) (domain.PairPrice, error) {
	var errs []error
	for _, s := range f.sources {
		prices, err := s.SpotPrices(ctx, maker, taker)
		if err == nil {
			return prices, nil
		}
		slog.Debug("pricefeed: source failed", "source", s.Name(), "err", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return domain.PairPrice{}, errors.Join(errs...)
}
