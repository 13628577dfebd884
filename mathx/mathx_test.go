package mathx

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundFourDecimals(t *testing.T) {
	assert.InDelta(t, 1.2346, Round(1.23456, 1e-4), 1e-12)
	assert.InDelta(t, -0.0012, Round(-0.00123, 1e-4), 1e-12)
}

func TestRoundPassesNaN(t *testing.T) {
	assert.True(t, math.IsNaN(Round(math.NaN(), 1e-4)))
	assert.True(t, math.IsInf(Round(math.Inf(1), 1e-4), 1))
}

func TestRoundGivesShortestDecimal(t *testing.T) {
	assert.Equal(t, 0.3, Round(0.30000001, 1e-4))
	assert.Equal(t, "0.1235", strconv.FormatFloat(Round(0.12348, 1e-4), 'g', -1, 64))
}
