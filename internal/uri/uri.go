// Package uri parses and dispatches the five libIIO URI schemes (spec
// §4.6 "URI scheme") to the backend responsible for each one, grounded
// on pluto.go's ad hoc cfg.URI host:port normalization
// (internal/sdr/pluto.go) generalized from one hardcoded PlutoSDR
// address into all five schemes.
package uri

import (
	"strconv"
	"strings"

	"github.com/rjboer/iiogo/internal/ioerr"
)

// Scheme identifies which of the five URI forms a string names.
type Scheme int

const (
	Local Scheme = iota
	Network
	USB
	Serial
	XML
)

func (s Scheme) String() string {
	switch s {
	case Local:
		return "local"
	case Network:
		return "ip"
	case USB:
		return "usb"
	case Serial:
		return "serial"
	case XML:
		return "xml"
	default:
		return "unknown"
	}
}

// Parsed is a URI split into its scheme and the remainder after the
// scheme prefix. For XML, Body is either a path or, when the URI is
// itself a raw document, the full document text.
type Parsed struct {
	Scheme Scheme
	Body   string
}

// Parse classifies raw as one of the five schemes (spec §4.6):
//
//	local:
//	ip:HOST[:PORT]
//	usb:BUS.ADDR[.INTF]
//	serial:DEVNODE,BAUD[,BITS,PARITY,STOP,FLOW]
//	xml:PATH, or the raw XML document itself (detected by "<?xml" prefix)
func Parse(raw string) (Parsed, error) {
	if strings.HasPrefix(strings.TrimSpace(raw), "<?xml") {
		return Parsed{Scheme: XML, Body: raw}, nil
	}
	switch {
	case strings.HasPrefix(raw, "local:"):
		return Parsed{Local, strings.TrimPrefix(raw, "local:")}, nil
	case strings.HasPrefix(raw, "ip:"):
		return Parsed{Network, strings.TrimPrefix(raw, "ip:")}, nil
	case strings.HasPrefix(raw, "usb:"):
		return Parsed{USB, strings.TrimPrefix(raw, "usb:")}, nil
	case strings.HasPrefix(raw, "serial:"):
		return Parsed{Serial, strings.TrimPrefix(raw, "serial:")}, nil
	case strings.HasPrefix(raw, "xml:"):
		return Parsed{XML, strings.TrimPrefix(raw, "xml:")}, nil
	default:
		return Parsed{}, ioerr.New(ioerr.BadArgument, "unrecognized URI: "+raw)
	}
}

// USBAddr is a parsed "BUS.ADDR[.INTF]" body, INTF defaulting to 0
// (spec §4.6: "usb:BUS.ADDR[.INTF]; INTF defaults to 0").
type USBAddr struct {
	Bus       int
	Device    int
	Interface int
}

// ParseUSBAddr parses the body of a "usb:" URI.
func ParseUSBAddr(body string) (USBAddr, error) {
	parts := strings.Split(body, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return USBAddr{}, ioerr.New(ioerr.BadArgument, "usb URI requires bus.addr[.interface]: "+body)
	}
	bus, err := strconv.Atoi(parts[0])
	if err != nil {
		return USBAddr{}, ioerr.New(ioerr.BadArgument, "invalid usb bus number: "+parts[0])
	}
	dev, err := strconv.Atoi(parts[1])
	if err != nil {
		return USBAddr{}, ioerr.New(ioerr.BadArgument, "invalid usb device address: "+parts[1])
	}
	intf := 0
	if len(parts) == 3 {
		intf, err = strconv.Atoi(parts[2])
		if err != nil {
			return USBAddr{}, ioerr.New(ioerr.BadArgument, "invalid usb interface number: "+parts[2])
		}
	}
	return USBAddr{Bus: bus, Device: dev, Interface: intf}, nil
}
