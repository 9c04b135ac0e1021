// Package streamstats reports throughput and a coarse spectral peak
// for a captured block of samples, the bandwidth-rediscovery diagnostic
// spec.md §9 describes for the stresstest CLI surface. It is a trimmed
// copy of the teacher's internal/dsp package: Hamming/ApplyWindow/
// FFTShift carried over near verbatim, the monopulse-specific framing
// (angle.go, cached.go, monopulse.go) and the hardcoded 12-bit ADC
// full-scale constant dropped, since this package is a diagnostic over
// arbitrary channel data, not a sensor-angle estimator (spec.md §1
// Non-goal: "libIIO does not model the physics of sensors").
package streamstats

import "math"

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// ApplyWindow multiplies samples by window elementwise; both must be
// the same length.
func ApplyWindow(samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return []complex128{}
	}
	out := make([]complex128, len(samples))
	for i, v := range samples {
		out[i] = complex(float64(real(v))*window[i], float64(imag(v))*window[i])
	}
	return out
}

// FFTShift rotates data so that the zero-frequency bin is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := append(append([]complex128{}, data[half:]...), data[:half]...)
	return shifted
}
