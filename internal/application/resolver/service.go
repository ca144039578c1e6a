// Package resolver is the order lifecycle: ingestion, fillability evaluation
// and exactly-once execution of liquidation-protection orders.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// cancelLease is how long a cancellation holds its claim before deleting.
const cancelLease = 30 * time.Second

// Config holds the protocol deployment used for signature checks.
type Config struct {
	ChainID            int64
	LimitOrderProtocol common.Address
	VerifySignatures   bool
}

// SubmitRequest is a parsed order submission.
type SubmitRequest struct {
	Order            domain.Order
	Signature        string
	Extension        string
	TriggerPrice     decimal.Decimal
	TriggerDirection domain.TriggerDirection
}

// Service composes the resolver components behind the operations exposed
// over HTTP and by the poller.
type Service struct {
	cfg           Config
	store         ports.OrderStore
	reconstructor *Reconstructor
	evaluator     *Evaluator
	executor      *Executor
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewService wires a Service. store is wrapped with Hydrate.
func NewService(
	cfg Config,
	store ports.OrderStore,
	reconstructor *Reconstructor,
	oracle ports.PriceOracle,
	submitter ports.FillSubmitter,
	execCfg ExecutorConfig,
	evalWorkers int,
	metrics *observability.Metrics,
) *Service {
	hydrated := Hydrate(store, reconstructor)
	return &Service{
		cfg:           cfg,
		store:         hydrated,
		reconstructor: reconstructor,
		evaluator:     NewEvaluator(oracle, evalWorkers, metrics),
		executor:      NewExecutor(hydrated, submitter, execCfg, metrics),
		metrics:       metrics,
		now:           time.Now,
	}
}

// Submit validates, reconstructs and stores an order, returning its id.
// Nothing is stored unless every check passes.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	id, stored, err := s.prepare(req)
	if err != nil {
		s.metrics.OrderSubmitted("rejected")
		slog.Info("resolver: order rejected", "order_id", id, "err", err)
		return id, err
	}

	if err := s.store.Create(ctx, stored); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.OrderSubmitted("conflict")
		} else {
			s.metrics.OrderSubmitted("rejected")
		}
		return id, err
	}

	s.metrics.OrderSubmitted("accepted")
	slog.Info("resolver: order stored",
		"order_id", id,
		"maker", stored.Order.Maker,
		"trigger_price", stored.TriggerPrice.String(),
		"trigger_direction", stored.TriggerDirection,
	)
	return id, nil
}

func (s *Service) prepare(req SubmitRequest) (string, domain.StoredOrder, error) {
	if strings.TrimSpace(req.Signature) == "" {
		return "", domain.StoredOrder{}, domain.Validationf("signature is required")
	}
	if req.TriggerPrice.Sign() <= 0 {
		return "", domain.StoredOrder{}, domain.Validationf("triggerPrice must be positive")
	}
	direction, err := domain.ParseTriggerDirection(string(req.TriggerDirection))
	if err != nil {
		return "", domain.StoredOrder{}, err
	}

	id, err := domain.ComputeID(req.Order)
	if err != nil {
		return "", domain.StoredOrder{}, err
	}
	order, err := req.Order.Normalize()
	if err != nil {
		return id, domain.StoredOrder{}, err
	}

	limit, err := s.reconstructor.Reconstruct(order, req.Extension)
	if err != nil {
		return id, domain.StoredOrder{}, err
	}

	if s.cfg.VerifySignatures {
		if err := s.verifySignature(limit, req.Signature); err != nil {
			return id, domain.StoredOrder{}, err
		}
	}

	return id, domain.StoredOrder{
		ID:               id,
		Order:            order,
		Signature:        strings.TrimSpace(req.Signature),
		Extension:        limit.Extension.Hex(),
		Reconstructed:    limit,
		Timestamp:        s.now().UTC(),
		TriggerPrice:     req.TriggerPrice,
		TriggerDirection: direction,
	}, nil
}

func (s *Service) verifySignature(limit *lop.LimitOrder, signature string) error {
	raw, err := lop.ParseSignature(signature)
	if err != nil {
		return domain.Validationf("signature: %v", err)
	}
	signer, err := lop.RecoverSigner(limit.OrderData, s.cfg.ChainID, s.cfg.LimitOrderProtocol, raw)
	if err != nil {
		return domain.Validationf("signature: %v", err)
	}
	if signer != limit.Maker {
		return domain.Validationf("signature: signed by %s, maker is %s",
			lop.HexAddress(signer), lop.HexAddress(limit.Maker))
	}
	return nil
}

// List returns every stored order.
func (s *Service) List(ctx context.Context) ([]domain.StoredOrder, error) {
	orders, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver.List: %w", err)
	}
	return orders, nil
}

// Get returns one order or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.StoredOrder, error) {
	return s.store.Get(ctx, id)
}

// Fillable evaluates every stored order against current prices. Only a
// store failure is an error; price failures just shrink the result.
func (s *Service) Fillable(ctx context.Context) (Evaluation, error) {
	orders, err := s.List(ctx)
	if err != nil {
		return Evaluation{}, err
	}
	return s.evaluator.Evaluate(ctx, orders), nil
}

// Fill executes the order on-chain. See Executor.Fill.
func (s *Service) Fill(ctx context.Context, id string) (domain.FillResult, error) {
	return s.executor.Fill(ctx, id)
}

// Cancel deletes an order that is not being filled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.store.Claim(ctx, id, uuid.NewString(), cancelLease); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("resolver.Cancel: %w", err)
	}
	slog.Info("resolver: order cancelled", "order_id", id)
	return nil
}

// PruneExpired deletes orders whose maker-traits expiration has passed and
// returns how many were removed. Orders being filled are left alone.
func (s *Service) PruneExpired(ctx context.Context) (int, error) {
	orders, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	pruned := 0
	for _, o := range orders {
		if !o.IsExpired(now) {
			continue
		}
		if err := s.Cancel(ctx, o.ID); err != nil {
			if !errors.Is(err, domain.ErrAlreadyFilling) && !errors.Is(err, domain.ErrNotFound) {
				slog.Warn("resolver: prune failed", "order_id", o.ID, "err", err)
			}
			continue
		}
		slog.Info("resolver: expired order pruned", "order_id", o.ID, "expired_at", o.ExpiresAt())
		pruned++
	}
	return pruned, nil
}
