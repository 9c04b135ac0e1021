// Package cliutil collects the flag parsing, backend wiring, and
// exit-code conventions shared by every CLI front-end (iio_attr,
// iio_info, iio_readdev, iio_rwdev, iio_stresstest; spec §6). The
// testable-parse-function-plus-flag.FlagSet shape is grounded on the
// teacher's cmd/monopulse/main.go (parseConfig/envInt/envString); it is
// pulled into one shared package here because, unlike monopulse's
// tracker-specific flags, all five tools accept the exact same -u/-T/-S
// triple, making per-binary duplication pure copy-paste.
package cliutil

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rjboer/iiogo/backend/local"
	"github.com/rjboer/iiogo/backend/network"
	"github.com/rjboer/iiogo/backend/serial"
	"github.com/rjboer/iiogo/backend/xmlfile"
	"github.com/rjboer/iiogo/internal/discovery"
	"github.com/rjboer/iiogo/internal/logging"
	"github.com/rjboer/iiogo/internal/uri"
)

// Common is the -u/-T/-S triple every front-end accepts (spec §6:
// "All accept -u URI, -T timeout-ms, -S (scan)").
type Common struct {
	URI       string
	TimeoutMs int
	Scan      bool
}

// BindCommon registers -u/-T/-S on fs.
func BindCommon(fs *flag.FlagSet) *Common {
	c := &Common{}
	fs.StringVar(&c.URI, "u", "", "context URI (local:, ip:HOST[:PORT], usb:BUS.ADDR[.INTF], serial:DEVNODE,BAUD[,BITS,PARITY,STOP,FLOW], xml:PATH)")
	fs.IntVar(&c.TimeoutMs, "T", 0, "operation timeout in milliseconds (0 = no timeout)")
	fs.BoolVar(&c.Scan, "S", false, "scan for available contexts instead of connecting")
	return c
}

// NewLogger builds the process-wide logger every front-end installs via
// logging.SetDefault before touching a resolver: text-formatted, Info
// level, written to the same stream -T/-S diagnostics already use.
func NewLogger(out io.Writer) logging.Logger {
	return logging.New(logging.Info, logging.Text, out)
}

// Exit codes (spec §6: "0 success; 1 general failure; 2 usage;
// signal-mapped values on Ctrl-C").
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// SignalExitCode maps a caught signal to the conventional 128+n shell
// exit code.
func SignalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return ExitFailure
}

// NotifyInterrupt returns a channel fed by SIGINT/SIGTERM so
// long-running front-ends (iio_readdev, iio_rwdev, iio_stresstest) can
// select on it between buffer iterations and exit with a signal-mapped
// code instead of an uncontrolled kill.
func NotifyInterrupt() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

// NewResolver wires every backend this module can construct without
// claiming hardware up front into a uri.Resolver: local (sysfs), network
// (IIOD over TCP), serial (termios), and the standalone xml backend.
// OpenUSB is left nil, matching internal/uri's own documented gap: no
// libusb binding exists anywhere in the reference corpus, so a "usb:"
// URI fails with Unsupported until a caller supplies a real opener.
func NewResolver() *uri.Resolver {
	log := logging.Default()
	r := uri.NewResolver()

	_, localOps := local.New(local.Config{})
	r.LocalOps = localOps
	log.Debug("backend wired", logging.Field{Key: "scheme", Value: "local"})

	_, networkOps := network.New(network.Config{})
	r.NetworkOps = networkOps
	log.Debug("backend wired", logging.Field{Key: "scheme", Value: "ip"})

	_, serialOps := serial.New()
	r.SerialOps = serialOps
	log.Debug("backend wired", logging.Field{Key: "scheme", Value: "serial"})

	_, xmlOps := xmlfile.New()
	r.XMLOps = xmlOps
	log.Debug("backend wired", logging.Field{Key: "scheme", Value: "xml"})

	return r
}

// ScanResult is one entry from Scan: a ready-to-use URI plus a
// human-readable description, the shape iio_info's "-S" output and
// libiio's own `iio_scan` share.
type ScanResult struct {
	Description string
	URI         string
}

// Scan runs DNS-SD discovery and formats each surviving candidate as an
// "ip:" URI (spec §6 "-S (scan)"; spec §4.6 "Auto-discovery"). Only the
// network backend has a grounded scan mechanism in this module; local/
// serial/usb scanning would require enumerating host devices this
// module has no library support for, so "-S" reports network contexts
// only, same scope internal/discovery itself covers.
func Scan(timeoutSeconds int) ([]ScanResult, error) {
	log := logging.Default()
	b := discovery.New()
	candidates, err := b.Discover(timeoutSeconds)
	if err != nil {
		log.Warn("discovery failed", logging.Field{Key: "error", Value: err.Error()})
		return nil, err
	}
	log.Info("discovery complete", logging.Field{Key: "candidates", Value: len(candidates)})
	out := make([]ScanResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, ScanResult{
			Description: c.Hostname,
			URI:         "ip:" + c.Address.String() + ":" + strconv.Itoa(c.Port),
		})
	}
	return out, nil
}
