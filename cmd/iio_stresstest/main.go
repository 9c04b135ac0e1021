// Command iio_stresstest captures from one device's input channels as
// fast as the backend allows, periodically reporting throughput and a
// coarse spectral summary of the last captured block (spec §6, §9
// "bandwidth rediscovery").
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/cliutil"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/logging"
	"github.com/rjboer/iiogo/internal/streamstats"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type config struct {
	common     *cliutil.Common
	device     string
	channels   []string
	bufferSize int
	nbBlocks   int
	duration   time.Duration
	fullScale  float64
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("iio_stresstest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config{common: cliutil.BindCommon(fs)}
	fs.IntVar(&cfg.bufferSize, "b", 1024*1024, "size in bytes of each captured block")
	fs.IntVar(&cfg.nbBlocks, "B", 4, "number of blocks in the streaming ring")
	var durationSeconds float64
	fs.Float64Var(&durationSeconds, "d", 0, "stop after this many seconds (0 = run until interrupted)")
	fs.Float64Var(&cfg.fullScale, "f", 2048.0, "full-scale magnitude used to convert peaks to dBFS")
	var channels string
	fs.StringVar(&channels, "c", "", "comma-separated channel ids to capture (empty = every input scan channel)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	cfg.duration = time.Duration(durationSeconds * float64(time.Second))
	if channels != "" {
		cfg.channels = strings.Split(channels, ",")
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return config{}, fmt.Errorf("iio_stresstest: a device name is required")
	}
	cfg.device = rest[0]
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	logging.SetDefault(cliutil.NewLogger(stderr))
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cliutil.ExitUsage
	}
	if cfg.common.URI == "" {
		fmt.Fprintln(stderr, "iio_stresstest: -u URI is required")
		return cliutil.ExitUsage
	}

	resolver := cliutil.NewResolver()
	ctx, err := resolver.CreateContext(cfg.common.URI)
	if err != nil {
		fmt.Fprintln(stderr, "iio_stresstest: create context failed:", err)
		return cliutil.ExitFailure
	}

	dev := ctx.FindDevice(cfg.device)
	if dev == nil {
		fmt.Fprintln(stderr, "iio_stresstest: no such device:", cfg.device)
		return cliutil.ExitFailure
	}

	ops, ok := ctx.Backend.(*backend.Ops)
	if !ok || ops == nil {
		fmt.Fprintln(stderr, "iio_stresstest: context backend does not support buffers")
		return cliutil.ExitFailure
	}

	iiomodel.ReorderChannels(dev)
	mask := iiomodel.NewMask(len(dev.Channels))
	selected := 0
	for _, ch := range dev.Channels {
		if ch.Output || !ch.ScanElement {
			continue
		}
		if len(cfg.channels) > 0 && !contains(cfg.channels, ch.ID) {
			continue
		}
		mask.Set(ch.Number)
		selected++
	}
	if selected == 0 {
		fmt.Fprintln(stderr, "iio_stresstest: no matching input channels")
		return cliutil.ExitFailure
	}

	buf, err := iiomodel.CreateBuffer(dev, 0, mask, backend.AsBufferOps(ops))
	if err != nil {
		fmt.Fprintln(stderr, "iio_stresstest: create buffer failed:", err)
		return cliutil.ExitFailure
	}
	defer buf.Close()

	stream, err := iiomodel.NewStream(buf, cfg.nbBlocks, cfg.bufferSize, true)
	if err != nil {
		fmt.Fprintln(stderr, "iio_stresstest: create stream failed:", err)
		return cliutil.ExitFailure
	}
	defer stream.Close()

	sig := cliutil.NotifyInterrupt()

	if _, err := stream.NextBlock(); err != nil {
		fmt.Fprintln(stderr, "iio_stresstest: stream start failed:", err)
		return cliutil.ExitFailure
	}

	start := time.Now()
	lastReport := start
	var totalSamples, totalBytes int

	for {
		select {
		case s := <-sig:
			return cliutil.SignalExitCode(s)
		default:
		}
		if cfg.duration > 0 && time.Since(start) >= cfg.duration {
			return cliutil.ExitOK
		}

		blk, err := stream.NextBlock()
		if err != nil {
			fmt.Fprintln(stderr, "iio_stresstest: next block failed:", err)
			return cliutil.ExitFailure
		}
		if blk.BytesUsed == 0 {
			continue
		}

		samples := bytesToComplex64(blk.Data[:blk.BytesUsed])
		totalSamples += len(samples)
		totalBytes += blk.BytesUsed

		if since := time.Since(lastReport); since >= time.Second {
			r := streamstats.Throughput(totalSamples, totalBytes, time.Since(start))
			r = streamstats.Analyze(r, samples, cfg.fullScale)
			fmt.Fprintf(stdout, "samples/s=%.0f bytes/s=%.0f peak_bin=%.3f peak_dbfs=%.1f\n",
				r.SamplesPerSec, r.BytesPerSec, r.PeakBinFraction, r.PeakDBFS)
			logging.Default().Debug("stresstest report",
				logging.Field{Key: "samples_per_sec", Value: r.SamplesPerSec},
				logging.Field{Key: "peak_dbfs", Value: r.PeakDBFS},
			)
			lastReport = time.Now()
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// bytesToComplex64 reinterprets raw little-endian int16 I/Q pairs as
// complex samples for spectral analysis; non-IQ devices still produce
// a number, just not a physically meaningful one.
func bytesToComplex64(data []byte) []complex64 {
	n := len(data) / 4
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		re := int16(binary.LittleEndian.Uint16(data[i*4:]))
		im := int16(binary.LittleEndian.Uint16(data[i*4+2:]))
		out[i] = complex(float32(re), float32(im))
	}
	return out
}
