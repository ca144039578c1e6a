package ports

import (
	"context"

	"github.com/alejandrodnm/liqshield/internal/domain"
)

// Notifier presents the outcome of a polling cycle.
type Notifier interface {
	// Notify reports one cycle. The console implementation prints a table.
	Notify(ctx context.Context, report domain.CycleReport) error
}
