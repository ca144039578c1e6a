package storage

import (
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/liqshield/internal/domain"
)

// Persistent backends store the JSON form of a StoredOrder. The reconstructed
// order is not serialized; callers rebuild it from Order and Extension.

func encodeOrder(order domain.StoredOrder) ([]byte, error) {
	b, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	return b, nil
}

func decodeOrder(b []byte) (domain.StoredOrder, error) {
	var order domain.StoredOrder
	if err := json.Unmarshal(b, &order); err != nil {
		return domain.StoredOrder{}, fmt.Errorf("decode order: %w", err)
	}
	return order, nil
}
