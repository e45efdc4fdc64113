package census

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeView struct {
	state State
	phase Phase
	cycle uint64
}

func (v fakeView) State() State   { return v.state }
func (v fakeView) Phase() Phase   { return v.phase }
func (v fakeView) Action() Action { return ActionOf(v.phase) }
func (v fakeView) Cycle() uint64  { return v.cycle }

func TestPhaseNextWrapsAround(t *testing.T) {
	require.Equal(t, StartBarrier, Start.Next())
	require.Equal(t, Start, Leave.Next())
}

func TestCensusAnyAndAll(t *testing.T) {
	c := Of(
		fakeView{state: Running, phase: Submit, cycle: 4},
		fakeView{state: Stopping, phase: Submit, cycle: 5},
	)

	require.Equal(t, 2, c.Count())
	require.Equal(t, uint64(4), c.MinCycle())
	require.Equal(t, uint64(5), c.MaxCycle())

	require.True(t, c.AllPhase(Submit))
	require.True(t, c.AnyState(Stopping))
	require.False(t, c.AllState(Stopping))
	require.True(t, c.AllAction(Receive))
}

func TestEmptyCensusAllIsFalse(t *testing.T) {
	c := New()
	require.False(t, c.AllState(Running))
	require.Equal(t, 0, c.Count())
}

func TestCensusEqual(t *testing.T) {
	a := Of(fakeView{state: Running, phase: Enter, cycle: 1})
	b := Of(fakeView{state: Running, phase: Enter, cycle: 1})
	require.True(t, a.Equal(b))

	c := Of(fakeView{state: Stopping, phase: Enter, cycle: 1})
	require.False(t, a.Equal(c))
}
