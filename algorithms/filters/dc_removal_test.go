package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestDCRemovalBlocksOffset(t *testing.T) {
	dc := NewDCRemoval(22800, 20)
	assert.InDelta(t, 1-2*math.Pi*20/22800, dc.Pole(), 1e-12)

	signal := make([]float64, 22800)
	for i := range signal {
		signal[i] = 0.3 + 0.5*math.Sin(2*math.Pi*440*float64(i)/22800)
	}

	// filter in two blocks to exercise the carried state
	dc.ProcessInPlace(signal[:1000])
	dc.ProcessInPlace(signal[1000:])

	tail := signal[len(signal)/2:]
	assert.InDelta(t, 0, stat.Mean(tail, nil), 1e-3)
	assert.InDelta(t, 0.5*0.5/2, stat.Variance(tail, nil), 0.005)

	dc.Reset()
	zero := make([]float64, 10)
	dc.ProcessInPlace(zero)
	assert.Equal(t, make([]float64, 10), zero)
}
