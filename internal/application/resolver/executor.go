package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// ExecutorConfig tunes fill execution.
type ExecutorConfig struct {
	FillTimeout     time.Duration // whole fill, receipt wait included
	ClaimTTL        time.Duration // lease on the order while filling
	EnsureAllowance bool          // approve the taker asset before filling
}

// Executor fills stored orders on-chain, at most once per order.
type Executor struct {
	store     ports.OrderStore
	submitter ports.FillSubmitter
	cfg       ExecutorConfig
	metrics   *observability.Metrics
	newOwner  func() string
}

// NewExecutor returns an Executor. ClaimTTL defaults to FillTimeout plus one
// minute so a lease never lapses while its fill is still running.
func NewExecutor(store ports.OrderStore, submitter ports.FillSubmitter, cfg ExecutorConfig, metrics *observability.Metrics) *Executor {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 2 * time.Minute
	}
	if cfg.ClaimTTL < cfg.FillTimeout {
		cfg.ClaimTTL = cfg.FillTimeout + time.Minute
	}
	return &Executor{
		store:     store,
		submitter: submitter,
		cfg:       cfg,
		metrics:   metrics,
		newOwner:  uuid.NewString,
	}
}

// Fill claims the order, submits the fill and deletes the order once the
// transaction is mined. The claim is released on any failure so the order
// can be retried.
func (x *Executor) Fill(ctx context.Context, id string) (domain.FillResult, error) {
	owner := x.newOwner()
	if err := x.store.Claim(ctx, id, owner, x.cfg.ClaimTTL); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			x.metrics.FillAttempt("not_found")
		case errors.Is(err, domain.ErrAlreadyFilling):
			x.metrics.FillAttempt("busy")
		default:
			x.metrics.FillAttempt("failed")
		}
		return domain.FillResult{OrderID: id}, err
	}
	log := slog.With("order_id", id, "claim", owner)

	result, err := x.fillClaimed(ctx, id)
	// Cleanup must run even if the caller's context is gone.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := x.store.Release(bg, id, owner); relErr != nil {
			log.Error("resolver: release claim failed", "err", relErr)
		}
		var revert *domain.RevertError
		if errors.As(err, &revert) {
			x.metrics.FillAttempt("reverted")
		} else {
			x.metrics.FillAttempt("failed")
		}
		log.Warn("resolver: fill failed", "err", err)
		return result, err
	}

	if delErr := x.store.Delete(bg, id); delErr != nil {
		// The claim stays until its TTL, which keeps the order from being
		// filled twice in the meantime.
		log.Error("resolver: delete filled order failed", "err", delErr)
	}
	x.metrics.FillAttempt("filled")
	log.Info("resolver: order filled",
		"tx", result.TxHash.Hex(),
		"block", result.BlockNumber,
		"gas_used", result.GasUsed,
	)
	return result, nil
}

func (x *Executor) fillClaimed(ctx context.Context, id string) (domain.FillResult, error) {
	result := domain.FillResult{OrderID: id}

	order, err := x.store.Get(ctx, id)
	if err != nil {
		return result, err
	}
	call, err := NewFillCall(order, x.submitter.TakerAddress())
	if err != nil {
		return result, err
	}

	// Once the claim is held only FillTimeout bounds the fill.
	fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.cfg.FillTimeout)
	defer cancel()

	if x.cfg.EnsureAllowance {
		if am, ok := x.submitter.(ports.AllowanceManager); ok {
			if err := am.EnsureAllowance(fillCtx, order.Reconstructed.TakerAsset, call.Amount); err != nil {
				return result, err
			}
		}
	}

	return x.submitter.SubmitFill(fillCtx, call)
}

// NewFillCall derives the fillOrderArgs arguments for order: the compact
// signature, and taker traits that route the maker asset to taker and
// re-supply the extension. The fill amount is the full taking amount.
func NewFillCall(order domain.StoredOrder, taker common.Address) (domain.FillCall, error) {
	if order.Reconstructed == nil {
		return domain.FillCall{}, fmt.Errorf("%w: %s", domain.ErrNotReconstructed, order.ID)
	}

	raw, err := hexutil.Decode(order.Signature)
	if err != nil {
		return domain.FillCall{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignatureEncoding, err)
	}
	sig, err := lop.Compact(raw)
	if err != nil {
		return domain.FillCall{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignatureEncoding, err)
	}

	receiver := [20]byte(taker)
	traits, args, err := lop.TakerTraits{
		Receiver:  &receiver,
		Extension: order.Reconstructed.Extension.Encode(),
	}.Encode()
	if err != nil {
		return domain.FillCall{}, fmt.Errorf("resolver.NewFillCall: taker traits: %w", err)
	}

	limit := order.Reconstructed
	return domain.FillCall{
		OrderID:     order.ID,
		Order:       limit.ContractTuple(),
		R:           sig.R,
		VS:          sig.VS,
		Amount:      new(big.Int).Set(limit.TakingAmount),
		TakerTraits: traits,
		Args:        args,
	}, nil
}
