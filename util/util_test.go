package util_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/tascan/util"
)

func ExampleLinspace() {
	fmt.Println(util.Linspace(0, 1, 5))
	// Output: [0 0.25 0.5 0.75 1]
}

func ExampleLimiter_Check() {
	lim := util.Limiter{Min: 0, Max: 8672.66}
	fmt.Println(lim.Check(-0.1), lim.Check(0), lim.Check(8672.66), lim.Check(8700))
	// Output: false true true false
}

func TestLinspaceEdges(t *testing.T) {
	assert.Empty(t, util.Linspace(0, 1, 0))
	assert.Equal(t, []float64{3}, util.Linspace(3, 9, 1))
	out := util.Linspace(-5, 2, 8)
	assert.Len(t, out, 8)
	assert.Equal(t, -5., out[0])
	assert.Equal(t, 2., out[7])
}

func TestLogspaceNoEndpoint(t *testing.T) {
	out := util.Logspace(0, 2, 2, false)
	assert.InDeltaSlice(t, []float64{1, 10}, out, 1e-12)
	out = util.Logspace(0, 2, 3, true)
	assert.InDeltaSlice(t, []float64{1, 10, 100}, out, 1e-9)
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, util.ClampInt(-3, 0, 10))
	assert.Equal(t, 10, util.ClampInt(30, 0, 10))
	assert.Equal(t, 4, util.ClampInt(4, 0, 10))
}
