package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/ports"
)

// PollerConfig configures the scheduled evaluation loop.
type PollerConfig struct {
	Interval time.Duration
	AutoFill bool // fill every fillable order, one at a time
	RunOnce  bool // single cycle, then return
}

// Poller periodically prunes expired orders, evaluates the rest and
// optionally fills the ones whose trigger holds.
type Poller struct {
	cfg      PollerConfig
	service  *Service
	notifier ports.Notifier
}

// NewPoller returns a Poller. notifier may be nil.
func NewPoller(cfg PollerConfig, service *Service, notifier ports.Notifier) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Poller{cfg: cfg, service: service, notifier: notifier}
}

// Run executes cycles until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller starting", "interval", p.cfg.Interval, "auto_fill", p.cfg.AutoFill)

	if _, err := p.RunCycle(ctx); err != nil {
		slog.Error("poll cycle failed", "err", err)
		if p.cfg.RunOnce {
			return err
		}
	}
	if p.cfg.RunOnce {
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.RunCycle(ctx); err != nil {
				slog.Error("poll cycle failed", "err", err)
			}
		}
	}
}

// RunCycle runs one prune/evaluate/fill pass and reports it.
func (p *Poller) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	start := time.Now()
	report := domain.CycleReport{At: start.UTC()}

	pruned, err := p.service.PruneExpired(ctx)
	if err != nil {
		return report, err
	}
	report.Pruned = pruned

	orders, err := p.service.List(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(orders)

	eval := p.service.evaluator.Evaluate(ctx, orders)
	report.Fillable = eval.Fillable
	report.Skipped = eval.Skipped

	if p.cfg.AutoFill {
		for _, f := range eval.Fillable {
			if ctx.Err() != nil {
				break
			}
			res, err := p.service.Fill(ctx, f.Order.ID)
			report.Fills = append(report.Fills, domain.FillOutcome{OrderID: f.Order.ID, Result: res, Err: err})
		}
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, report); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	slog.Info("poll cycle complete",
		"orders", report.Total,
		"pruned", report.Pruned,
		"fillable", len(report.Fillable),
		"skipped", report.Skipped,
		"fills", len(report.Fills),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}
