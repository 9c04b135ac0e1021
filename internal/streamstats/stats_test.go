package streamstats

import (
	"math"
	"testing"
	"time"
)

func TestThroughputComputesRates(t *testing.T) {
	r := Throughput(1000, 4000, time.Second)
	if r.SamplesPerSec != 1000 || r.BytesPerSec != 4000 {
		t.Fatalf("unexpected throughput: %+v", r)
	}
}

func TestThroughputZeroElapsedLeavesRatesZero(t *testing.T) {
	r := Throughput(1000, 4000, 0)
	if r.SamplesPerSec != 0 || r.BytesPerSec != 0 {
		t.Fatalf("expected zero rates for zero elapsed time, got %+v", r)
	}
}

func TestAnalyzeFindsToneNearExpectedBin(t *testing.T) {
	const n = 64
	const cyclesPerBlock = 4
	samples := make([]complex64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * cyclesPerBlock * float64(i) / n
		samples[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}

	r := Analyze(Report{}, samples, 1.0)
	wantFraction := float64(n/2+cyclesPerBlock) / n
	if math.Abs(r.PeakBinFraction-wantFraction) > 0.02 {
		t.Fatalf("expected peak near fraction %.3f, got %.3f", wantFraction, r.PeakBinFraction)
	}
	if math.IsInf(r.PeakDBFS, -1) {
		t.Fatalf("expected a finite peak magnitude")
	}
}

func TestAnalyzeEmptySamplesIsNoop(t *testing.T) {
	r := Analyze(Report{Samples: 5}, nil, 1.0)
	if r.Samples != 5 || r.PeakBinFraction != 0 {
		t.Fatalf("expected input report unchanged for empty samples, got %+v", r)
	}
}

func TestHammingWindowShape(t *testing.T) {
	w := Hamming(8)
	if len(w) != 8 {
		t.Fatalf("expected length 8, got %d", len(w))
	}
	if w[0] >= w[4] {
		t.Fatalf("expected the window to peak near its center: %v", w)
	}
}
