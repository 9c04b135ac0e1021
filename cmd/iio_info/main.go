// Command iio_info dumps a context's device/channel/attribute tree, or
// lists discoverable contexts with -S (spec §6).
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

func run(args []string, stdout, stderr io.Writer) int {
	logging.SetDefault(cliutil.NewLogger(stderr))
	fs := flag.NewFlagSet("iio_info", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := cliutil.BindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return cliutil.ExitUsage
	}

	if common.Scan {
		return doScan(stdout, stderr, common.TimeoutMs)
	}

	if common.URI == "" {
		fmt.Fprintln(stderr, "iio_info: -u URI is required unless -S is given")
		return cliutil.ExitUsage
	}

	resolver := cliutil.NewResolver()
	ctx, err := resolver.CreateContext(common.URI)
	if err != nil {
		fmt.Fprintln(stderr, "iio_info: create context failed:", err)
		return cliutil.ExitFailure
	}

	printContext(stdout, ctx)
	return cliutil.ExitOK
}

func doScan(stdout, stderr io.Writer, timeoutMs int) int {
	timeoutSeconds := timeoutMs / 1000
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	results, err := cliutil.Scan(timeoutSeconds)
	if err != nil {
		fmt.Fprintln(stderr, "iio_info: scan failed:", err)
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

func printContext(w io.Writer, ctx *iiomodel.Context) {
	fmt.Fprintf(w, "IIO context: %s\n", ctx.Name)
	if ctx.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", ctx.Description)
	}
	printAttrList(w, "  ", ctx.Attrs, ctx)

	fmt.Fprintf(w, "%d device(s) found:\n", len(ctx.Devices))
	for _, dev := range ctx.Devices {
		label := dev.Name
		if dev.Label != "" {
			label = fmt.Sprintf("%s (%s)", dev.Name, dev.Label)
		}
		fmt.Fprintf(w, "\t%s: %s, found %d channels\n", dev.ID, label, len(dev.Channels))
		printAttrList(w, "\t\t", dev.DeviceAttrs, nil)
		printAttrList(w, "\t\t", dev.DebugAttrs, nil)
		printAttrList(w, "\t\t", dev.BufferAttrs, nil)

		for _, ch := range dev.Channels {
			dir := "input"
			if ch.Output {
				dir = "output"
			}
			fmt.Fprintf(w, "\t\t%s: %s (%s", ch.ID, ch.Name, dir)
			if ch.ScanElement {
				fmt.Fprintf(w, ", index: %d, format: %s", ch.ScanIndex, formatLayout(ch))
			}
			fmt.Fprintln(w, ")")
			printAttrList(w, "\t\t\t", ch.Attrs, nil)
		}
	}
}

func formatLayout(ch *iiomodel.Channel) string {
	endian := "le"
	if ch.Format.Endianness == iiomodel.BigEndian {
		endian = "be"
	}
	sign := "u"
	if ch.Format.Signed {
		sign = "s"
	}
	return fmt.Sprintf("%s:%s%d/%d>>%d", endian, sign, ch.Format.Bits, ch.Format.Length, ch.Format.Shift)
}

func printAttrList(w io.Writer, indent string, l *attr.List, ctx *iiomodel.Context) {
	if l == nil {
		return
	}
	for i, a := range l.Attrs {
		if l.Kind == attr.Context {
			if ctx == nil {
				continue
			}
			value, _ := l.ValueAt(i)
			fmt.Fprintf(w, "%sattr: %s value: %s\n", indent, a.Name, value)
			continue
		}
		fmt.Fprintf(w, "%sattr: %s\n", indent, a.Name)
	}
}
