// Command iio_rwdev streams samples to or from one device's buffer:
// by default it behaves like iio_readdev, capturing input channels to
// stdout; with -w it instead reads raw samples from stdin and
// transmits them on the device's output channels (spec §6, §4.5).
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
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type config struct {
	common     *cliutil.Common
	device     string
	channels   []string
	bufferSize int
	nbBlocks   int
	write      bool
	cyclic     bool
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("iio_rwdev", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config{common: cliutil.BindCommon(fs)}
	fs.IntVar(&cfg.bufferSize, "b", 1024*1024, "size in bytes of each transferred block")
	fs.IntVar(&cfg.nbBlocks, "B", 4, "number of blocks in the streaming ring")
	fs.BoolVar(&cfg.write, "w", false, "transmit stdin to the device instead of capturing to stdout")
	fs.BoolVar(&cfg.cyclic, "C", false, "resubmit the last block forever instead of reading more from stdin (with -w)")
	var channels string
	fs.StringVar(&channels, "c", "", "comma-separated channel ids (empty = every channel matching the transfer direction)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if channels != "" {
		cfg.channels = strings.Split(channels, ",")
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return config{}, fmt.Errorf("iio_rwdev: a device name is required")
	}
	cfg.device = rest[0]
	return cfg, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logging.SetDefault(cliutil.NewLogger(stderr))
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cliutil.ExitUsage
	}
	if cfg.common.URI == "" {
		fmt.Fprintln(stderr, "iio_rwdev: -u URI is required")
		return cliutil.ExitUsage
	}

	resolver := cliutil.NewResolver()
	ctx, err := resolver.CreateContext(cfg.common.URI)
	if err != nil {
		fmt.Fprintln(stderr, "iio_rwdev: create context failed:", err)
		return cliutil.ExitFailure
	}

	dev := ctx.FindDevice(cfg.device)
	if dev == nil {
		fmt.Fprintln(stderr, "iio_rwdev: no such device:", cfg.device)
		return cliutil.ExitFailure
	}

	ops, ok := ctx.Backend.(*backend.Ops)
	if !ok || ops == nil {
		fmt.Fprintln(stderr, "iio_rwdev: context backend does not support buffers")
		return cliutil.ExitFailure
	}

	iiomodel.ReorderChannels(dev)
	mask, err := selectMask(dev, cfg.channels, cfg.write)
	if err != nil {
		fmt.Fprintln(stderr, "iio_rwdev:", err)
		return cliutil.ExitFailure
	}

	buf, err := iiomodel.CreateBuffer(dev, 0, mask, backend.AsBufferOps(ops))
	if err != nil {
		fmt.Fprintln(stderr, "iio_rwdev: create buffer failed:", err)
		return cliutil.ExitFailure
	}
	defer buf.Close()

	stream, err := iiomodel.NewStream(buf, cfg.nbBlocks, cfg.bufferSize, !cfg.write)
	if err != nil {
		fmt.Fprintln(stderr, "iio_rwdev: create stream failed:", err)
		return cliutil.ExitFailure
	}
	defer stream.Close()

	sig := cliutil.NotifyInterrupt()

	logging.Default().Info("rwdev started",
		logging.Field{Key: "device", Value: dev.ID},
		logging.Field{Key: "direction", Value: map[bool]string{true: "tx", false: "rx"}[cfg.write]},
	)

	if cfg.write {
		return transmit(stream, stdin, stderr, sig, cfg.cyclic)
	}
	return capture(stream, stdout, stderr, sig)
}

func capture(stream *iiomodel.Stream, stdout io.Writer, stderr io.Writer, sig chan os.Signal) int {
	if _, err := stream.NextBlock(); err != nil {
		fmt.Fprintln(stderr, "iio_rwdev: stream start failed:", err)
		return cliutil.ExitFailure
	}
	for {
		select {
		case s := <-sig:
			return cliutil.SignalExitCode(s)
		default:
		}
		blk, err := stream.NextBlock()
		if err != nil {
			fmt.Fprintln(stderr, "iio_rwdev: next block failed:", err)
			return cliutil.ExitFailure
		}
		if blk.BytesUsed == 0 {
			continue
		}
		if _, err := stdout.Write(blk.Data[:blk.BytesUsed]); err != nil {
			fmt.Fprintln(stderr, "iio_rwdev: write failed:", err)
			return cliutil.ExitFailure
		}
	}
}

func transmit(stream *iiomodel.Stream, stdin io.Reader, stderr io.Writer, sig chan os.Signal, cyclic bool) int {
	blk, err := stream.NextBlock()
	if err != nil {
		fmt.Fprintln(stderr, "iio_rwdev: stream start failed:", err)
		return cliutil.ExitFailure
	}

	for {
		select {
		case s := <-sig:
			return cliutil.SignalExitCode(s)
		default:
		}

		n, readErr := io.ReadFull(stdin, blk.Data)
		if n == 0 && readErr != nil {
			return cliutil.ExitOK
		}
		blk.BytesUsed = n
		blk.Cyclic = cyclic

		blk, err = stream.NextBlock()
		if err != nil {
			fmt.Fprintln(stderr, "iio_rwdev: next block failed:", err)
			return cliutil.ExitFailure
		}
		if cyclic {
			// The submitted block now repeats on its own; stdin is not
			// read again.
			return cliutil.SignalExitCode(<-sig)
		}
		if readErr != nil {
			return cliutil.ExitOK
		}
	}
}

// selectMask enables ids, or every channel matching the transfer
// direction (output for -w, input for capture) when ids is empty.
func selectMask(dev *iiomodel.Device, ids []string, write bool) (*iiomodel.ChannelsMask, error) {
	mask := iiomodel.NewMask(len(dev.Channels))
	if len(ids) == 0 {
		for _, ch := range dev.Channels {
			if ch.Output == write && ch.ScanElement {
				mask.Set(ch.Number)
			}
		}
		return mask, nil
	}
	for _, id := range ids {
		ch := dev.FindChannel(strings.TrimSpace(id), write)
		if ch == nil {
			return nil, fmt.Errorf("no such channel: %s", id)
		}
		mask.Set(ch.Number)
	}
	return mask, nil
}
