package object

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectLifecycle(t *testing.T) {
	obj := New(3)
	require.False(t, obj.IsManaged())
	require.Equal(t, Group(3), obj.Group())

	obj.Bind(5, 42)
	require.True(t, obj.IsManaged())
	require.Equal(t, RegionID(5), obj.RegionID())
	require.Equal(t, uint32(42), obj.Index())
}

func TestBindTwicePanics(t *testing.T) {
	obj := New(0)
	obj.Bind(1, 1)
	require.Panics(t, func() { obj.Bind(2, 2) })
}

func TestApplyIncrementAlwaysAlive(t *testing.T) {
	obj := New(0)
	require.True(t, obj.ApplyIncrement(5))
	require.Equal(t, uint32(5), obj.ReferenceCount())
	require.True(t, obj.ApplyIncrement(2))
	require.Equal(t, uint32(7), obj.ReferenceCount())
}

func TestApplyDecrementToExactlyZeroStaysAlive(t *testing.T) {
	obj := New(0)
	obj.ApplyIncrement(4)
	require.True(t, obj.ApplyDecrement(4))
	require.Equal(t, uint32(0), obj.ReferenceCount())
}

func TestApplyDecrementUnderflowDies(t *testing.T) {
	obj := New(0)
	obj.Bind(9, 1)
	obj.ApplyIncrement(2)
	require.False(t, obj.ApplyDecrement(3))
	require.Equal(t, uint32(0), obj.ReferenceCount())
	require.False(t, obj.IsManaged())
}

func TestArenaRegisterLookupRelease(t *testing.T) {
	a := NewArena()
	require.Nil(t, a.Lookup(0))

	obj := New(0)
	idx := a.Register(obj)
	require.NotZero(t, idx)
	require.Same(t, obj, a.Lookup(idx))

	a.Release(idx)
	require.Nil(t, a.Lookup(idx))

	other := New(1)
	reused := a.Register(other)
	require.Equal(t, idx, reused)
}

func TestArenaReleaseReservedIndexPanics(t *testing.T) {
	a := NewArena()
	require.Panics(t, func() { a.Release(0) })
}
