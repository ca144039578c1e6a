package resolver

import (
	"errors"
	"fmt"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum/common"
)

// Reconstructor binds a submitted order to its encoded extension.
type Reconstructor struct {
	// postInteraction, when non-zero, is the only post-interaction target
	// accepted.
	postInteraction common.Address
}

// NewReconstructor returns a Reconstructor. A zero target disables the
// post-interaction target check.
func NewReconstructor(postInteraction common.Address) *Reconstructor {
	return &Reconstructor{postInteraction: postInteraction}
}

// Reconstruct decodes extension and binds it to order. Malformed fields are
// domain.ErrValidation, undecodable extensions domain.ErrExtensionDecode and
// binding failures domain.ErrOrderMismatch.
func (r *Reconstructor) Reconstruct(order domain.Order, extension string) (*lop.LimitOrder, error) {
	data, err := order.Data()
	if err != nil {
		return nil, err
	}

	ext, err := lop.ParseExtension(extension)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtensionDecode, err)
	}

	limit, err := lop.FromDataAndExtension(data, ext)
	if err != nil {
		if errors.Is(err, lop.ErrExtensionMismatch) {
			return nil, fmt.Errorf("%w: %v", domain.ErrOrderMismatch, err)
		}
		return nil, domain.Validationf("%v", err)
	}

	call, ok, err := limit.PostInteraction()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtensionDecode, err)
	}
	if r.postInteraction != (common.Address{}) {
		if !ok {
			return nil, fmt.Errorf("%w: order has no post-interaction", domain.ErrOrderMismatch)
		}
		if call.Target != r.postInteraction {
			return nil, fmt.Errorf("%w: post-interaction target %s, expected %s",
				domain.ErrOrderMismatch, lop.HexAddress(call.Target), lop.HexAddress(r.postInteraction))
		}
	}
	return limit, nil
}
