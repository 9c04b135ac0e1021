package streamstats

import (
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Report summarizes one captured block for the stresstest CLI: the
// achieved throughput and a coarse description of where the energy in
// the block sits (spec.md §9's "bandwidth rediscovery" concern).
type Report struct {
	Samples         int
	Elapsed         time.Duration
	SamplesPerSec   float64
	BytesPerSec     float64
	PeakBinFraction float64 // peak bin index / block length, in [0, 1)
	PeakDBFS        float64
}

// Throughput computes Samples/Elapsed and BytesPerSec given the raw
// byte count moved, independent of any spectral analysis.
func Throughput(samples, bytes int, elapsed time.Duration) Report {
	r := Report{Samples: samples, Elapsed: elapsed}
	secs := elapsed.Seconds()
	if secs > 0 {
		r.SamplesPerSec = float64(samples) / secs
		r.BytesPerSec = float64(bytes) / secs
	}
	return r
}

// Analyze runs an FFT over samples (a Hamming window applied first,
// normalized by the window's sum) and reports the peak bin's fractional
// position and magnitude in dBFS relative to fullScale, folding the
// result into a throughput Report already computed by Throughput.
func Analyze(r Report, samples []complex64, fullScale float64) Report {
	if len(samples) == 0 {
		return r
	}
	win := Hamming(len(samples))
	windowed := ApplyWindow(samples, win)
	coeffs := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)

	sumWin := 0.0
	for _, v := range win {
		sumWin += v
	}
	if sumWin == 0 {
		sumWin = 1
	}
	for i := range coeffs {
		coeffs[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(coeffs)

	peakIdx := 0
	peakMag := 0.0
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag > peakMag {
			peakMag = mag
			peakIdx = i
		}
	}

	r.PeakBinFraction = float64(peakIdx) / float64(len(shifted))
	if peakMag == 0 || fullScale == 0 {
		r.PeakDBFS = math.Inf(-1)
	} else {
		r.PeakDBFS = 20 * math.Log10(peakMag/fullScale)
	}
	return r
}
