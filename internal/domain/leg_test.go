package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOpen(t *testing.T) {
	open := []PositionTag{TagOpenFull, TagOpenScalping, TagOpenTrailing}
	for _, tag := range open {
		assert.True(t, tag.IsOpen(), "%s 应属于已开仓", tag)
	}
	closed := []PositionTag{TagReadyForEntry, TagEntering, TagPartialEntry, TagOrphanSL, TagTrueOrphan, TagUnknown, TagExiting, TagNoData}
	for _, tag := range closed {
		assert.False(t, tag.IsOpen(), "%s 不应属于已开仓", tag)
	}
}

func TestResetKeepsLegIdentity(t *testing.T) {
	leg := NewLegState(OptionPE)
	leg.Position = TagOpenScalping
	leg.SecurityID = "200"
	leg.EnteredQty = 150
	leg.ExitLogicActive = true
	leg.ScalpStop = &StopOrder{OrderID: "S1"}

	now := time.Now()
	leg.Reset(now, "flatten")

	assert.Equal(t, OptionPE, leg.Leg)
	assert.Equal(t, TagReadyForEntry, leg.Position)
	assert.Equal(t, "flatten", leg.Note)
	assert.Equal(t, now, leg.LastUpdated)
	assert.Empty(t, leg.SecurityID)
	assert.Zero(t, leg.EnteredQty)
	assert.False(t, leg.ExitLogicActive)
	assert.Nil(t, leg.ScalpStop)
}

func TestCloneDeepCopiesStops(t *testing.T) {
	leg := NewLegState(OptionCE)
	leg.ScalpStop = &StopOrder{OrderID: "S1", RemainingQty: 75}
	leg.RunnerStop = &StopOrder{OrderID: "S2", RemainingQty: 75}

	c := leg.Clone()
	require.NotNil(t, c.ScalpStop)
	c.ScalpStop.RemainingQty = 0

	assert.Equal(t, int64(75), leg.ScalpStop.RemainingQty, "改副本不应影响原值")
}

func TestStopOrderIDs(t *testing.T) {
	leg := NewLegState(OptionCE)
	scalp, runner := leg.StopOrderIDs()
	assert.Empty(t, scalp)
	assert.Empty(t, runner)

	leg.RunnerStop = &StopOrder{OrderID: "R"}
	scalp, runner = leg.StopOrderIDs()
	assert.Empty(t, scalp)
	assert.Equal(t, "R", runner)
}

func TestInstrumentLots(t *testing.T) {
	inst := Instrument{LotSize: 75}
	assert.Equal(t, int64(2), inst.Lots(150))
	assert.Equal(t, int64(2), inst.Lots(160), "余量向下取整")
	assert.Equal(t, int64(0), inst.Lots(50))
	assert.Equal(t, int64(0), Instrument{}.Lots(100), "手数未知时为 0")
}

func TestOptionTypeValid(t *testing.T) {
	assert.True(t, OptionCE.Valid())
	assert.True(t, OptionPE.Valid())
	assert.False(t, OptionType("XX").Valid())
	assert.False(t, OptionType("").Valid())
}
