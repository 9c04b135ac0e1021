// Command iio_attr reads or writes a single context/device/channel/
// debug/buffer attribute (spec §6).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/cliutil"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type config struct {
	common  *cliutil.Common
	device  string
	channel string
	output  bool
	debug   bool
	buffer  bool
	name    string
	value   string
	hasVal  bool
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("iio_attr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config{common: cliutil.BindCommon(fs)}
	fs.StringVar(&cfg.device, "d", "", "device name or id")
	fs.StringVar(&cfg.channel, "c", "", "channel name or id")
	fs.BoolVar(&cfg.output, "o", false, "channel is an output channel (with -c)")
	fs.BoolVar(&cfg.debug, "D", false, "attribute is a debug attribute")
	fs.BoolVar(&cfg.buffer, "B", false, "attribute is a buffer attribute")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return config{}, fmt.Errorf("iio_attr: an attribute name is required")
	}
	cfg.name = rest[0]
	if len(rest) > 1 {
		cfg.value = rest[1]
		cfg.hasVal = true
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	logging.SetDefault(cliutil.NewLogger(stderr))
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cliutil.ExitUsage
	}

	if cfg.common.Scan {
		return doScan(stdout, stderr, cfg.common.TimeoutMs)
	}

	if cfg.common.URI == "" {
		fmt.Fprintln(stderr, "iio_attr: -u URI is required unless -S is given")
		return cliutil.ExitUsage
	}

	resolver := cliutil.NewResolver()
	ctx, err := resolver.CreateContext(cfg.common.URI)
	if err != nil {
		fmt.Fprintln(stderr, "iio_attr: create context failed:", err)
		return cliutil.ExitFailure
	}

	if cfg.device == "" {
		return readWriteContextAttr(ctx, cfg, stdout, stderr)
	}

	a, err := locate(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, "iio_attr:", err)
		return cliutil.ExitFailure
	}

	if cfg.hasVal {
		if err := attr.WriteRaw(a, cfg.value); err != nil {
			fmt.Fprintln(stderr, "iio_attr: write failed:", err)
			return cliutil.ExitFailure
		}
		return cliutil.ExitOK
	}

	value, err := attr.ReadRaw(a)
	if err != nil {
		fmt.Fprintln(stderr, "iio_attr: read failed:", err)
		return cliutil.ExitFailure
	}
	fmt.Fprintln(stdout, value)
	return cliutil.ExitOK
}

// readWriteContextAttr handles context-kind attributes separately: they
// are never bound to a backend's RawIO (spec §4.2's "fixed at context
// creation" description), so their value lives only in Attrs.Values.
func readWriteContextAttr(ctx *iiomodel.Context, cfg config, stdout, stderr io.Writer) int {
	idx := ctx.Attrs.IndexOf(cfg.name)
	if idx < 0 {
		fmt.Fprintln(stderr, "iio_attr: no such context attribute:", cfg.name)
		return cliutil.ExitFailure
	}
	if cfg.hasVal {
		fmt.Fprintln(stderr, "iio_attr: context attributes are read-only")
		return cliutil.ExitFailure
	}
	value, _ := ctx.Attrs.ValueAt(idx)
	fmt.Fprintln(stdout, value)
	return cliutil.ExitOK
}

func locate(ctx *iiomodel.Context, cfg config) (*attr.Attribute, error) {
	dev := ctx.FindDevice(cfg.device)
	if dev == nil {
		return nil, fmt.Errorf("no such device: %s", cfg.device)
	}

	if cfg.channel != "" {
		ch := dev.FindChannel(cfg.channel, cfg.output)
		if ch == nil {
			return nil, fmt.Errorf("no such channel: %s", cfg.channel)
		}
		a := ch.Attrs.Find(cfg.name)
		if a == nil {
			return nil, fmt.Errorf("no such channel attribute: %s", cfg.name)
		}
		return a, nil
	}

	list := dev.DeviceAttrs
	switch {
	case cfg.debug:
		list = dev.DebugAttrs
	case cfg.buffer:
		list = dev.BufferAttrs
	}
	a := list.Find(cfg.name)
	if a == nil {
		return nil, fmt.Errorf("no such attribute: %s", cfg.name)
	}
	return a, nil
}

func doScan(stdout, stderr io.Writer, timeoutMs int) int {
	timeoutSeconds := timeoutMs / 1000
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	results, err := cliutil.Scan(timeoutSeconds)
	if err != nil {
		fmt.Fprintln(stderr, "iio_attr: scan failed:", err)
		return cliutil.ExitFailure
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "No contexts found.")
		return cliutil.ExitOK
	}
	for _, r := range results {
		fmt.Fprintf(stdout, "\t%s [%s]\n", r.Description, r.URI)
	}
	return cliutil.ExitOK
}
