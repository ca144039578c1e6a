package domain

import "time"

// CycleReport summarizes one polling cycle.
type CycleReport struct {
	At       time.Time
	Total    int
	Pruned   int
	Skipped  int // orders excluded because their price lookup failed
	Fillable []FillableOrder
	Fills    []FillOutcome
}

// FillableOrder is an order whose trigger currently holds, with the prices
// that satisfied it.
type FillableOrder struct {
	Order  StoredOrder
	Prices PairPrice
}

// FillOutcome records an automatic fill attempt.
type FillOutcome struct {
	OrderID string
	Result  FillResult
	Err     error
}
