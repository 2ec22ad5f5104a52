package windowing

import (
	"fmt"
	"math"
)

// Hann is a raised-cosine analysis window
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a Hann window. Periodic windows (symmetric = false) are
// the usual choice for overlapping STFT frames.
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

func (h *Hann) generate() {
	h.coefficients = make([]float64, h.size)
	if h.size == 1 {
		h.coefficients[0] = 1
		return
	}

	denominator := float64(h.size)
	if h.symmetric {
		denominator = float64(h.size - 1)
	}
	for i := range h.size {
		h.coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/denominator))
	}
}

// ApplyTo writes signal*window into dst
func (h *Hann) ApplyTo(dst, signal []float64) error {
	if len(signal) != h.size || len(dst) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}
	for i, c := range h.coefficients {
		dst[i] = signal[i] * c
	}
	return nil
}

// Coefficient returns the i-th window value
func (h *Hann) Coefficient(i int) float64 {
	return h.coefficients[i]
}

// Size returns the window length
func (h *Hann) Size() int {
	return h.size
}
