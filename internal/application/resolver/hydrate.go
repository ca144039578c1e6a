package resolver

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/ports"
)

// hydratingStore rebuilds StoredOrder.Reconstructed on read. Persistent
// backends only keep order and extension; the memory backend keeps the
// cached value and is passed through untouched.
type hydratingStore struct {
	ports.OrderStore
	reconstructor *Reconstructor
}

// Hydrate wraps store so that every order it returns carries its
// reconstructed form. Orders that no longer reconstruct are returned without
// it and fail to fill with domain.ErrNotReconstructed.
func Hydrate(store ports.OrderStore, r *Reconstructor) ports.OrderStore {
	if h, ok := store.(*hydratingStore); ok {
		return h
	}
	return &hydratingStore{OrderStore: store, reconstructor: r}
}

func (h *hydratingStore) Get(ctx context.Context, id string) (domain.StoredOrder, error) {
	o, err := h.OrderStore.Get(ctx, id)
	if err != nil {
		return o, err
	}
	return h.hydrate(o), nil
}

func (h *hydratingStore) List(ctx context.Context) ([]domain.StoredOrder, error) {
	orders, err := h.OrderStore.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = h.hydrate(orders[i])
	}
	return orders, nil
}

func (h *hydratingStore) hydrate(o domain.StoredOrder) domain.StoredOrder {
	if o.Reconstructed != nil {
		return o
	}
	limit, err := h.reconstructor.Reconstruct(o.Order, o.Extension)
	if err != nil {
		slog.Warn("resolver: stored order no longer reconstructs", "order_id", o.ID, "err", err)
		return o
	}
	o.Reconstructed = limit
	return o
}
