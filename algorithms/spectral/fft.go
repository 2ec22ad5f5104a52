package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Magnitudes returns |X[k]| for k = 0..len(x)/2 of the real input x.
// go-dsp handles any length, not only powers of two.
func Magnitudes(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}

	spectrum := fft.FFTReal(x)
	out := make([]float64, len(x)/2+1)
	for k := range out {
		out[k] = cmplx.Abs(spectrum[k])
	}
	return out
}

// BinFrequency is the centre frequency of bin k for a frame of size n
func BinFrequency(k, n, sampleRate int) float64 {
	if n == 0 {
		return 0
	}
	return float64(k) * float64(sampleRate) / float64(n)
}
