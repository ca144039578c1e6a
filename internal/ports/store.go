package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
)

// OrderStore persists submitted orders keyed by id and owns their lifetime.
type OrderStore interface {
	// Create stores the order if its id is absent. The presence check and the
	// write are atomic; an existing id yields domain.ErrConflict.
	Create(ctx context.Context, order domain.StoredOrder) error

	// Get returns the order or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.StoredOrder, error)

	// List returns every stored order. Order of iteration is backend-defined.
	List(ctx context.Context) ([]domain.StoredOrder, error)

	// Delete removes the order and any claim on it. Deleting an absent id is
	// not an error.
	Delete(ctx context.Context, id string) error

	// Claim takes the fill lease on id for owner until now+ttl. It fails with
	// domain.ErrNotFound if the order is absent and domain.ErrAlreadyFilling
	// if another owner holds an unexpired lease.
	Claim(ctx context.Context, id, owner string, ttl time.Duration) error

	// Release drops owner's lease on id. Releasing a lease held by someone
	// else, or none at all, is a no-op.
	Release(ctx context.Context, id, owner string) error

	// Close releases the underlying resources.
	Close() error
}
