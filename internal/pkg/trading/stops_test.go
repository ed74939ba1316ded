package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopAndTargetHit(t *testing.T) {
	assert.True(t, StopHit(true, 95, 95))
	assert.False(t, StopHit(true, 95.01, 95))
	assert.True(t, StopHit(false, 105, 105))
	assert.False(t, StopHit(false, 104, 105))
	assert.False(t, StopHit(true, 90, 0))

	assert.True(t, TargetHit(true, 110, 110))
	assert.False(t, TargetHit(true, 109, 110))
	assert.True(t, TargetHit(false, 90, 90.5))
}

func TestTrailingStopFor(t *testing.T) {
	assert.InDelta(t, 98.0, TrailingStopFor(true, 100, 0.02), 1e-9)
	assert.InDelta(t, 102.0, TrailingStopFor(false, 100, 0.02), 1e-9)
	assert.Equal(t, 0.0, TrailingStopFor(true, 100, 0))
}

func TestTightensIsMonotonic(t *testing.T) {
	assert.True(t, Tightens(true, 99, 98))
	assert.False(t, Tightens(true, 97, 98))
	assert.False(t, Tightens(true, 98, 98))
	assert.True(t, Tightens(false, 101, 102))
	assert.False(t, Tightens(false, 103, 102))
	assert.True(t, Tightens(true, 50, 0))
}
