// Command iio_readdev streams raw samples captured off one device's
// input channels to stdout (spec §6, §4.5 buffer/block/stream pipeline).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/cliutil"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/logging"
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
	nbSamples  int64 // 0 means stream until interrupted
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("iio_readdev", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config{common: cliutil.BindCommon(fs)}
	fs.IntVar(&cfg.bufferSize, "b", 1024*1024, "size in bytes of each captured block")
	fs.IntVar(&cfg.nbBlocks, "B", 4, "number of blocks in the streaming ring")
	var nbSamples int64
	fs.Int64Var(&nbSamples, "n", 0, "number of samples to capture before exiting (0 = unbounded)")
	var channels string
	fs.StringVar(&channels, "c", "", "comma-separated channel ids to capture (empty = every input scan channel)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	cfg.nbSamples = nbSamples
	if channels != "" {
		cfg.channels = strings.Split(channels, ",")
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return config{}, fmt.Errorf("iio_readdev: a device name is required")
	}
	cfg.device = rest[0]
	return cfg, nil
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	logging.SetDefault(cliutil.NewLogger(stderr))
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cliutil.ExitUsage
	}

	if cfg.common.URI == "" {
		fmt.Fprintln(stderr, "iio_readdev: -u URI is required")
		return cliutil.ExitUsage
	}

	resolver := cliutil.NewResolver()
	ctx, err := resolver.CreateContext(cfg.common.URI)
	if err != nil {
		fmt.Fprintln(stderr, "iio_readdev: create context failed:", err)
		return cliutil.ExitFailure
	}

	dev := ctx.FindDevice(cfg.device)
	if dev == nil {
		fmt.Fprintln(stderr, "iio_readdev: no such device:", cfg.device)
		return cliutil.ExitFailure
	}

	ops, ok := ctx.Backend.(*backend.Ops)
	if !ok || ops == nil {
		fmt.Fprintln(stderr, "iio_readdev: context backend does not support buffers")
		return cliutil.ExitFailure
	}

	iiomodel.ReorderChannels(dev)
	mask, err := selectMask(dev, cfg.channels)
	if err != nil {
		fmt.Fprintln(stderr, "iio_readdev:", err)
		return cliutil.ExitFailure
	}

	buf, err := iiomodel.CreateBuffer(dev, 0, mask, backend.AsBufferOps(ops))
	if err != nil {
		fmt.Fprintln(stderr, "iio_readdev: create buffer failed:", err)
		return cliutil.ExitFailure
	}
	defer buf.Close()

	stream, err := iiomodel.NewStream(buf, cfg.nbBlocks, cfg.bufferSize, true)
	if err != nil {
		fmt.Fprintln(stderr, "iio_readdev: create stream failed:", err)
		return cliutil.ExitFailure
	}
	defer stream.Close()

	sig := cliutil.NotifyInterrupt()

	if _, err := stream.NextBlock(); err != nil {
		fmt.Fprintln(stderr, "iio_readdev: stream start failed:", err)
		return cliutil.ExitFailure
	}
	logging.Default().Info("capture started",
		logging.Field{Key: "device", Value: dev.ID},
		logging.Field{Key: "block_size", Value: cfg.bufferSize},
		logging.Field{Key: "nb_blocks", Value: cfg.nbBlocks},
	)

	size, err := iiomodel.SampleSize(dev, mask)
	if err != nil || size <= 0 {
		size = 1
	}
	var samplesWritten int64
	for cfg.nbSamples == 0 || samplesWritten < cfg.nbSamples {
		select {
		case s := <-sig:
			return cliutil.SignalExitCode(s)
		default:
		}

		blk, err := stream.NextBlock()
		if err != nil {
			fmt.Fprintln(stderr, "iio_readdev: next block failed:", err)
			return cliutil.ExitFailure
		}
		if blk.BytesUsed == 0 {
			continue
		}
		if _, err := stdout.Write(blk.Data[:blk.BytesUsed]); err != nil {
			fmt.Fprintln(stderr, "iio_readdev: write failed:", err)
			return cliutil.ExitFailure
		}
		samplesWritten += int64(blk.BytesUsed / size)
	}
	return cliutil.ExitOK
}

// selectMask enables ids (or every non-output scan channel when ids is
// empty) on a freshly allocated mask sized to dev's channel count.
func selectMask(dev *iiomodel.Device, ids []string) (*iiomodel.ChannelsMask, error) {
	mask := iiomodel.NewMask(len(dev.Channels))
	if len(ids) == 0 {
		for _, ch := range dev.Channels {
			if !ch.Output && ch.ScanElement {
				mask.Set(ch.Number)
			}
		}
		return mask, nil
	}
	for _, id := range ids {
		ch := dev.FindChannel(strings.TrimSpace(id), false)
		if ch == nil {
			return nil, fmt.Errorf("no such input channel: %s", id)
		}
		mask.Set(ch.Number)
	}
	return mask, nil
}
