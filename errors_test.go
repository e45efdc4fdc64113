package mantle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mantle/internal/object"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Domain.Bind", ErrCodeConfiguration, "no cpu affinity given")

	require.Equal(t, "Domain.Bind", err.Op)
	require.Equal(t, ErrCodeConfiguration, err.Code)
	require.Equal(t, "mantle: no cpu affinity given (op=Domain.Bind)", err.Error())
}

func TestRegionError(t *testing.T) {
	err := NewRegionError("Region.IncrementRef", 3, ErrCodeOverDecrement, "reference count underflow")

	require.Equal(t, object.RegionID(3), err.RegionID)
	require.Contains(t, err.Error(), "region=3")
}

func TestControllerError(t *testing.T) {
	err := NewControllerError("RegionController.Synchronize", 1, 42, ErrCodeProtocolViolation, "cycle mismatch")

	require.Equal(t, uint64(42), err.Cycle)
	require.Contains(t, err.Error(), "cycle=42")
}

func TestWrapError(t *testing.T) {
	inner := errors.New("boom")
	wrapped := WrapError("Region.New", inner)

	require.Equal(t, "Region.New", wrapped.Op)
	require.Equal(t, ErrCodeFinalizer, wrapped.Code)
	require.ErrorIs(t, wrapped, errors.Unwrap(wrapped))

	require.Nil(t, WrapError("noop", nil))
}

func TestWrapErrorPreservesCode(t *testing.T) {
	original := NewError("Region.Stop", ErrCodeShutdown, "already stopped")
	wrapped := WrapError("Domain.Stop", original)

	require.Equal(t, ErrCodeShutdown, wrapped.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError("Region.Stop", ErrCodeShutdown, "already stopped")
	require.True(t, IsCode(err, ErrCodeShutdown))
	require.False(t, IsCode(err, ErrCodeConfiguration))
	require.False(t, IsCode(errors.New("plain"), ErrCodeShutdown))
}

func TestErrorIs(t *testing.T) {
	a := NewError("op1", ErrCodeProtocolViolation, "a")
	b := NewError("op2", ErrCodeProtocolViolation, "b")
	require.True(t, errors.Is(a, b))

	c := NewError("op3", ErrCodeConfiguration, "c")
	require.False(t, errors.Is(a, c))
}
