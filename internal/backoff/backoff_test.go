package backoff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNext_FirstCallUsesStepsZero(t *testing.T) {
	b := New(WithVariance(0), WithMaximum(300))
	first := b.Next()
	require.InDelta(t, 1.0, first, 1e-9, "base^0 with zero variance should be exactly 1")
}

func TestNext_GrowsExponentially(t *testing.T) {
	b := New(WithBase(2), WithVariance(0), WithMaximum(1000))
	var got []float64
	for i := 0; i < 4; i++ {
		got = append(got, b.Next())
	}
	require.Equal(t, []float64{1, 2, 4, 8}, got)
}

func TestNext_CapsAtMaximum(t *testing.T) {
	b := New(WithBase(2), WithVariance(0), WithMaximum(5))
	for i := 0; i < 10; i++ {
		v := b.Next()
		require.LessOrEqual(t, v, 5.0)
	}
}

func TestReset_ReturnsToStepsZero(t *testing.T) {
	b := New(WithVariance(0))
	b.Next()
	b.Next()
	require.Equal(t, 1, b.Exp())
	b.Reset()
	require.Equal(t, 0, b.Exp())
	require.InDelta(t, 1.0, b.Next(), 1e-9)
}

func TestNext_JitterStaysWithinBounds(t *testing.T) {
	b := New(WithBase(2), WithVariance(0.1), WithMaximum(math.Pow(2, 60)))
	for i := 0; i < 50; i++ {
		v := b.Next()
		exp := math.Pow(2, float64(i))
		require.GreaterOrEqual(t, v, exp*0.9)
		require.LessOrEqual(t, v, exp*1.1+1e-9)
	}
}

func TestNew_PanicsOnInvalidBase(t *testing.T) {
	require.Panics(t, func() { New(WithBase(1)) })
	require.Panics(t, func() { New(WithBase(0.5)) })
}
