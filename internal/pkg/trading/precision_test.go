package trading

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFloorQuantityNeverRoundsUp(t *testing.T) {
	assert.Equal(t, "1.234", FloorQuantity(1.2349, 0.001, 3).String())
	assert.Equal(t, "1.2", FloorQuantity(1.29, 0.1, 3).String())
	assert.Equal(t, "15", FloorQuantity(15.9, 1, 0).String())
	assert.True(t, FloorQuantity(0, 0.001, 3).IsZero())
	assert.True(t, FloorQuantity(-1, 0.001, 3).IsZero())
}

func TestFloorQuantityProperties(t *testing.T) {
	specs := []struct {
		step     float64
		decimals int
	}{
		{0.001, 3},
		{0.01, 2},
		{1, 0},
		{0.1, 1},
		{0.0025, 3},
		{5, 0},
	}
	inputs := []float64{0.0009, 0.0123, 0.987654, 1.0075, 1.008, 3.33333, 12.5, 99.999, 1234.5678}
	for _, sp := range specs {
		step := decimal.NewFromFloat(sp.step)
		for _, in := range inputs {
			once := FloorQuantity(in, sp.step, sp.decimals)
			f, _ := once.Float64()
			twice := FloorQuantity(f, sp.step, sp.decimals)

			assert.True(t, once.Equal(twice), "idempotent step=%v in=%v", sp.step, in)
			assert.True(t, once.LessThanOrEqual(decimal.NewFromFloat(in)), "<= input step=%v in=%v", sp.step, in)
			assert.True(t, once.Mod(step).IsZero(), "multiple of step step=%v in=%v got=%s", sp.step, in, once)
			assert.True(t, once.Equal(once.Truncate(int32(sp.decimals))), "decimals step=%v in=%v got=%s", sp.step, in, once)
		}
	}
}

func TestQuantityString(t *testing.T) {
	q := FloorQuantity(0.5, 0.001, 3)
	assert.Equal(t, "0.500", QuantityString(q, 3))
}

func TestRoundPrice(t *testing.T) {
	assert.Equal(t, "100.15", PriceString(100.1500001, 0.01, 2))
	assert.Equal(t, "0.12346", PriceString(0.123456, 0.00001, 5))
	assert.Equal(t, "105", RoundPrice(104.96, 0.5, 1).String())
}

func TestOffsetPrice(t *testing.T) {
	assert.InDelta(t, 105.0, OffsetPrice(100, 0.05, true), 1e-9)
	assert.InDelta(t, 95.0, OffsetPrice(100, 0.05, false), 1e-9)
	assert.Equal(t, 0.0, OffsetPrice(0, 0.05, true))
}

func TestMargin(t *testing.T) {
	assert.InDelta(t, 5.0, Margin(100, 0.3, 6), 1e-9)
	assert.InDelta(t, 30.0, Margin(100, 0.3, 0), 1e-9)
	assert.Equal(t, 0.0, Margin(0, 1, 5))
}
