package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ComputeID returns the order id: hex SHA-256 of the compact JSON encoding of
// the normalized order, keys in canonical order. Equal tuples give equal ids
// regardless of the number formatting or address casing they arrived with.
func ComputeID(o Order) (string, error) {
	n, err := o.Normalize()
	if err != nil {
		return "", err
	}
	canonical, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("domain.ComputeID: marshal: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
