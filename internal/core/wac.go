package core

import (
	"strings"

	"github.com/shopspring/decimal"

	"accounting-core/internal/money"
)

// WACState is the running weighted-average-cost position of one
// (location, item). AvgCost carries 6dp, InventoryValue 2dp.
type WACState struct {
	QtyOnHand      decimal.Decimal
	AvgCost        decimal.Decimal
	InventoryValue decimal.Decimal
}

// ReplayMove is one stock move as seen by the replay. For IN moves UnitCost is
// the input cost (purchase cost or the frozen cost of a void re-entry). For
// OUT moves UnitCost is the previously applied cost, which the replay either
// recomputes from the running average or preserves for void-origin moves.
type ReplayMove struct {
	ID            int
	Direction     string
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	TotalCost     decimal.Decimal
	ReferenceType string
}

// ReplayResult is the cost the replay settled on for one move.
type ReplayResult struct {
	MoveID    int
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
	Changed   bool
}

// ApplyIn folds an inbound move into the state.
func (s WACState) ApplyIn(qty, unitCost decimal.Decimal) (WACState, decimal.Decimal) {
	total := money.Round2(qty.Mul(unitCost))
	s.QtyOnHand = s.QtyOnHand.Add(qty)
	s.InventoryValue = money.Round2(s.InventoryValue.Add(total))
	if s.QtyOnHand.IsPositive() {
		s.AvgCost = money.Round6(s.InventoryValue.Div(s.QtyOnHand))
	}
	return s, total
}

// ApplyOut issues qty at the current average cost. Issuing to or below zero
// is allowed and clears the average; further issues cost nothing until the
// next inbound move re-establishes it.
func (s WACState) ApplyOut(qty decimal.Decimal) (WACState, decimal.Decimal, decimal.Decimal) {
	unitCost := s.AvgCost
	total := money.Round2(qty.Mul(unitCost))
	s.QtyOnHand = s.QtyOnHand.Sub(qty)
	s.InventoryValue = money.Round2(s.InventoryValue.Sub(total))
	if s.QtyOnHand.IsZero() {
		s.InventoryValue = decimal.Zero
	}
	if !s.QtyOnHand.IsPositive() {
		s.AvgCost = decimal.Zero
	}
	return s, unitCost, total
}

// applyOutFrozen issues qty at a predetermined cost, used for void-origin
// moves whose cost must stay what the voided document recognized.
func (s WACState) applyOutFrozen(qty, unitCost decimal.Decimal) (WACState, decimal.Decimal) {
	total := money.Round2(qty.Mul(unitCost))
	s.QtyOnHand = s.QtyOnHand.Sub(qty)
	s.InventoryValue = money.Round2(s.InventoryValue.Sub(total))
	if s.QtyOnHand.IsZero() {
		s.InventoryValue = decimal.Zero
	}
	if !s.QtyOnHand.IsPositive() {
		s.AvgCost = decimal.Zero
	}
	return s, total
}

// isVoidMove reports whether a move was created by a void, whose costs are
// frozen at the originally recognized amounts.
func isVoidMove(referenceType string) bool {
	return strings.HasSuffix(referenceType, "Void")
}

// ReplayWAC folds moves (already sorted by date then id) over a baseline state
// and returns the final state plus per-move settled costs. Deterministic:
// the same baseline and move list always produce the same result.
func ReplayWAC(baseline WACState, moves []ReplayMove) (WACState, []ReplayResult) {
	state := baseline
	results := make([]ReplayResult, 0, len(moves))
	for _, m := range moves {
		var unitCost, total decimal.Decimal
		switch {
		case m.Direction == "IN":
			// Inbound cost is an input, never recomputed.
			unitCost = m.UnitCost
			state, total = state.ApplyIn(m.Quantity, m.UnitCost)
		case isVoidMove(m.ReferenceType):
			unitCost = m.UnitCost
			state, total = state.applyOutFrozen(m.Quantity, m.UnitCost)
		default:
			state, unitCost, total = state.ApplyOut(m.Quantity)
		}
		results = append(results, ReplayResult{
			MoveID:    m.ID,
			UnitCost:  unitCost,
			TotalCost: total,
			Changed:   !unitCost.Equal(m.UnitCost) || !total.Equal(m.TotalCost),
		})
	}
	return state, results
}
