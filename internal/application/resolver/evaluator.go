package resolver

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Evaluation is the outcome of one batch evaluation.
type Evaluation struct {
	Fillable []domain.FillableOrder
	Skipped  int // orders dropped because their price lookup failed
}

// Evaluator decides which stored orders are fillable at current prices.
type Evaluator struct {
	oracle  ports.PriceOracle
	workers int
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEvaluator returns an Evaluator that runs at most workers price lookups
// at a time (0 = NumCPU*2).
func NewEvaluator(oracle ports.PriceOracle, workers int, metrics *observability.Metrics) *Evaluator {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	return &Evaluator{oracle: oracle, workers: workers, metrics: metrics, now: time.Now}
}

type pair struct {
	maker common.Address
	taker common.Address
}

// Evaluate fetches one quote per distinct token pair and returns the orders
// whose trigger holds, in input order. A failed lookup only drops the orders
// of that pair. Expired orders are never fillable.
func (e *Evaluator) Evaluate(ctx context.Context, orders []domain.StoredOrder) Evaluation {
	now := e.now()
	groups := make(map[pair][]int)
	for i, o := range orders {
		if o.IsExpired(now) {
			slog.Debug("resolver: skipping expired order", "order_id", o.ID)
			continue
		}
		maker, taker := o.Pair()
		p := pair{maker: maker, taker: taker}
		groups[p] = append(groups[p], i)
	}

	var (
		mu      sync.Mutex
		prices  = make([]*domain.PairPrice, len(orders))
		skipped int
	)

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for p, idx := range groups {
		g.Go(func() error {
			quote, err := e.oracle.SpotPrices(ctx, p.maker, p.taker)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, i := range idx {
					slog.Warn("resolver: price lookup failed, order skipped",
						"order_id", orders[i].ID,
						"maker_asset", p.maker.Hex(),
						"taker_asset", p.taker.Hex(),
						"err", err,
					)
				}
				skipped += len(idx)
				return nil
			}
			for _, i := range idx {
				prices[i] = &quote
			}
			return nil
		})
	}
	_ = g.Wait()

	out := Evaluation{Skipped: skipped}
	for i, o := range orders {
		if prices[i] == nil {
			continue
		}
		ok, err := o.IsFillable(*prices[i])
		if err != nil {
			slog.Warn("resolver: trigger evaluation failed", "order_id", o.ID, "err", err)
			out.Skipped++
			continue
		}
		if ok {
			out.Fillable = append(out.Fillable, domain.FillableOrder{Order: o, Prices: *prices[i]})
		}
	}

	e.metrics.SetFillable(len(out.Fillable))
	slog.Debug("resolver: evaluation complete",
		"orders", len(orders),
		"pairs", len(groups),
		"fillable", len(out.Fillable),
		"skipped", out.Skipped,
	)
	return out
}
