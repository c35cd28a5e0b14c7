package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWACState_ApplyIn(t *testing.T) {
	var s WACState

	s, total := s.ApplyIn(dec("10"), dec("100"))
	assert.True(t, total.Equal(dec("1000")))
	assert.True(t, s.QtyOnHand.Equal(dec("10")))
	assert.True(t, s.AvgCost.Equal(dec("100")))
	assert.True(t, s.InventoryValue.Equal(dec("1000")))

	// Second receipt at a different cost reweights the average:
	// (10*100 + 10*200) / 20 = 150.
	s, total = s.ApplyIn(dec("10"), dec("200"))
	assert.True(t, total.Equal(dec("2000")))
	assert.True(t, s.QtyOnHand.Equal(dec("20")))
	assert.True(t, s.AvgCost.Equal(dec("150")))
	assert.True(t, s.InventoryValue.Equal(dec("3000")))
}

func TestWACState_ApplyOut(t *testing.T) {
	var s WACState
	s, _ = s.ApplyIn(dec("20"), dec("150"))

	s, unitCost, total := s.ApplyOut(dec("5"))
	assert.True(t, unitCost.Equal(dec("150")))
	assert.True(t, total.Equal(dec("750")))
	assert.True(t, s.QtyOnHand.Equal(dec("15")))
	assert.True(t, s.InventoryValue.Equal(dec("2250")))

	// Issuing the rest clears the value and average exactly, no residue.
	s, _, _ = s.ApplyOut(dec("15"))
	assert.True(t, s.QtyOnHand.IsZero())
	assert.True(t, s.InventoryValue.IsZero())
	assert.True(t, s.AvgCost.IsZero())
}

func TestWACState_ApplyOut_BelowZeroClearsAverage(t *testing.T) {
	var s WACState
	s, _ = s.ApplyIn(dec("2"), dec("50"))

	// The oversold issue is still costed at the average in force, but the
	// average does not survive past zero on hand.
	s, unitCost, total := s.ApplyOut(dec("5"))
	assert.True(t, unitCost.Equal(dec("50")))
	assert.True(t, total.Equal(dec("250")))
	assert.True(t, s.QtyOnHand.Equal(dec("-3")))
	assert.True(t, s.AvgCost.IsZero())

	// Further issues while negative cost nothing.
	s, unitCost, total = s.ApplyOut(dec("1"))
	assert.True(t, unitCost.IsZero())
	assert.True(t, total.IsZero())
	assert.True(t, s.QtyOnHand.Equal(dec("-4")))

	// The next receipt re-establishes the average: (-150 + 600) / 6 = 75.
	s, _ = s.ApplyIn(dec("10"), dec("60"))
	assert.True(t, s.QtyOnHand.Equal(dec("6")))
	assert.True(t, s.AvgCost.Equal(dec("75")))
}

func TestWACState_AverageRoundsToSixPlaces(t *testing.T) {
	var s WACState
	s, _ = s.ApplyIn(dec("3"), dec("10"))
	s, _ = s.ApplyIn(dec("4"), dec("11"))
	// (30 + 44) / 7 = 10.571428571... -> 10.571429 at 6dp.
	assert.True(t, s.AvgCost.Equal(dec("10.571429")), "got %s", s.AvgCost)
}

func TestReplayWAC_RecomputesOutsAfterBackdatedIn(t *testing.T) {
	// An OUT originally costed at 100 sits after a backdated receipt at 200;
	// the replay moves it to the reweighted average of 150.
	moves := []ReplayMove{
		{ID: 1, Direction: "IN", Quantity: dec("10"), UnitCost: dec("100"), TotalCost: dec("1000"), ReferenceType: RefBill},
		{ID: 2, Direction: "IN", Quantity: dec("10"), UnitCost: dec("200"), TotalCost: dec("2000"), ReferenceType: RefBill},
		{ID: 3, Direction: "OUT", Quantity: dec("5"), UnitCost: dec("100"), TotalCost: dec("500"), ReferenceType: RefInvoice},
	}

	state, results := ReplayWAC(WACState{}, moves)
	require.Len(t, results, 3)

	assert.False(t, results[0].Changed)
	assert.False(t, results[1].Changed)
	assert.True(t, results[2].Changed)
	assert.True(t, results[2].UnitCost.Equal(dec("150")))
	assert.True(t, results[2].TotalCost.Equal(dec("750")))

	assert.True(t, state.QtyOnHand.Equal(dec("15")))
	assert.True(t, state.InventoryValue.Equal(dec("2250")))
	assert.True(t, state.AvgCost.Equal(dec("150")))
}

func TestReplayWAC_VoidMovesKeepFrozenCost(t *testing.T) {
	// The void-origin OUT recognized 80 when the bill was voided; a later
	// replay must not re-cost it even though the running average differs.
	moves := []ReplayMove{
		{ID: 1, Direction: "IN", Quantity: dec("10"), UnitCost: dec("100"), TotalCost: dec("1000"), ReferenceType: RefBill},
		{ID: 2, Direction: "OUT", Quantity: dec("5"), UnitCost: dec("80"), TotalCost: dec("400"), ReferenceType: RefBillVoid},
	}

	state, results := ReplayWAC(WACState{}, moves)
	require.Len(t, results, 2)

	assert.False(t, results[1].Changed)
	assert.True(t, results[1].UnitCost.Equal(dec("80")))
	assert.True(t, results[1].TotalCost.Equal(dec("400")))
	assert.True(t, state.QtyOnHand.Equal(dec("5")))
	assert.True(t, state.InventoryValue.Equal(dec("600")))
}

func TestReplayWAC_Deterministic(t *testing.T) {
	moves := []ReplayMove{
		{ID: 1, Direction: "IN", Quantity: dec("7"), UnitCost: dec("13.37"), ReferenceType: RefBill},
		{ID: 2, Direction: "OUT", Quantity: dec("3"), ReferenceType: RefInvoice},
		{ID: 3, Direction: "IN", Quantity: dec("4"), UnitCost: dec("21.01"), ReferenceType: RefAdjustment},
		{ID: 4, Direction: "OUT", Quantity: dec("6"), ReferenceType: RefPosReceipt},
	}

	state1, results1 := ReplayWAC(WACState{}, moves)
	state2, results2 := ReplayWAC(WACState{}, moves)

	assert.True(t, state1.QtyOnHand.Equal(state2.QtyOnHand))
	assert.True(t, state1.AvgCost.Equal(state2.AvgCost))
	assert.True(t, state1.InventoryValue.Equal(state2.InventoryValue))
	require.Equal(t, len(results1), len(results2))
	for i := range results1 {
		assert.True(t, results1[i].UnitCost.Equal(results2[i].UnitCost))
		assert.True(t, results1[i].TotalCost.Equal(results2[i].TotalCost))
	}
}

func TestIsVoidMove(t *testing.T) {
	assert.True(t, isVoidMove(RefInvoiceVoid))
	assert.True(t, isVoidMove(RefBillVoid))
	assert.False(t, isVoidMove(RefInvoice))
	assert.False(t, isVoidMove(RefAdjustment))
}
