// Package serial backs a Context over a tty/comport-attached IIOD
// server (spec §4.6 "serial transport", the "serial:" URI scheme:
// `serial:DEVNODE,BAUD[,BITS,PARITY,STOP,FLOW]`). The wire command
// language is the same ASCII protocol the network backend speaks
// (spec §4.4), carried as a plain framed byte stream over the tty
// instead of a TCP socket.
//
// Termios handling is grounded on Daedaluz-goserial/port_linux.go's
// flag layout and baud table, reimplemented against
// golang.org/x/sys/unix's IoctlGetTermios/IoctlSetTermios rather than
// that repo's own goioctl/fdev dependencies (see DESIGN.md).
package serial

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rjboer/iiogo/internal/ioerr"
	"golang.org/x/sys/unix"
)

// Parity selects the tty parity mode.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// Flow selects the tty flow control mode.
type Flow byte

const (
	FlowNone     Flow = '0'
	FlowHardware Flow = 'h'
	FlowXonXoff  Flow = 'x'
)

// Config is a parsed "DEVNODE,BAUD[,BITS,PARITY,STOP,FLOW]" URI body.
type Config struct {
	Device   string
	Baud     int
	DataBits int
	Parity   Parity
	StopBits int
	Flow     Flow
}

// defaults match libiio's own serial backend defaults: 8N1, no flow
// control, when the URI omits the optional fields.
func defaults() Config {
	return Config{DataBits: 8, Parity: ParityNone, StopBits: 1, Flow: FlowNone}
}

// ParseConfig parses the body of a "serial:" URI (without the scheme
// prefix), e.g. "/dev/ttyUSB0,115200,8,n,1,0".
func ParseConfig(body string) (Config, error) {
	fields := strings.Split(body, ",")
	if len(fields) < 2 || fields[0] == "" {
		return Config{}, ioerr.New(ioerr.BadArgument, "serial URI requires DEVNODE,BAUD")
	}

	cfg := defaults()
	cfg.Device = fields[0]

	baud, err := strconv.Atoi(fields[1])
	if err != nil || baud <= 0 {
		return Config{}, ioerr.New(ioerr.BadArgument, "serial URI has an invalid baud rate")
	}
	cfg.Baud = baud

	if len(fields) > 2 && fields[2] != "" {
		bits, err := strconv.Atoi(fields[2])
		if err != nil || bits < 5 || bits > 8 {
			return Config{}, ioerr.New(ioerr.BadArgument, "serial URI has an invalid data-bit count")
		}
		cfg.DataBits = bits
	}
	if len(fields) > 3 && fields[3] != "" {
		switch strings.ToUpper(fields[3]) {
		case "N":
			cfg.Parity = ParityNone
		case "E":
			cfg.Parity = ParityEven
		case "O":
			cfg.Parity = ParityOdd
		default:
			return Config{}, ioerr.New(ioerr.BadArgument, "serial URI has an invalid parity")
		}
	}
	if len(fields) > 4 && fields[4] != "" {
		stop, err := strconv.Atoi(fields[4])
		if err != nil || (stop != 1 && stop != 2) {
			return Config{}, ioerr.New(ioerr.BadArgument, "serial URI has an invalid stop-bit count")
		}
		cfg.StopBits = stop
	}
	if len(fields) > 5 && fields[5] != "" {
		switch fields[5] {
		case "0":
			cfg.Flow = FlowNone
		case "h":
			cfg.Flow = FlowHardware
		case "x":
			cfg.Flow = FlowXonXoff
		default:
			return Config{}, ioerr.New(ioerr.BadArgument, "serial URI has an invalid flow control mode")
		}
	}
	return cfg, nil
}

var baudConstants = map[int]uint32{
	50: unix.B50, 75: unix.B75, 110: unix.B110, 134: unix.B134, 150: unix.B150,
	200: unix.B200, 300: unix.B300, 600: unix.B600, 1200: unix.B1200,
	1800: unix.B1800, 2400: unix.B2400, 4800: unix.B4800, 9600: unix.B9600,
	19200: unix.B19200, 38400: unix.B38400, 57600: unix.B57600,
	115200: unix.B115200, 230400: unix.B230400, 460800: unix.B460800,
	500000: unix.B500000, 576000: unix.B576000, 921600: unix.B921600,
	1000000: unix.B1000000, 1152000: unix.B1152000, 1500000: unix.B1500000,
	2000000: unix.B2000000, 2500000: unix.B2500000, 3000000: unix.B3000000,
	3500000: unix.B3500000, 4000000: unix.B4000000,
}

// Port is an opened, configured tty.
type Port struct {
	file *os.File
}

// Open opens cfg.Device and applies cfg's line settings in raw,
// non-canonical mode (MakeRaw equivalent), matching
// Daedaluz-goserial's Termios.MakeRaw.
func Open(cfg Config) (*Port, error) {
	f, err := os.OpenFile(cfg.Device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.NotFound, fmt.Sprintf("open %s failed", cfg.Device), err)
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, ioerr.Wrap(ioerr.Broken, "termios get failed", err)
	}

	if err := applyConfig(t, cfg); err != nil {
		f.Close()
		return nil, err
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, ioerr.Wrap(ioerr.Broken, "termios set failed", err)
	}
	return &Port{file: f}, nil
}

func applyConfig(t *unix.Termios, cfg Config) error {
	baudBits, ok := baudConstants[cfg.Baud]
	if !ok {
		return ioerr.New(ioerr.BadArgument, fmt.Sprintf("unsupported baud rate %d", cfg.Baud))
	}

	// Raw mode: no line editing, no signal generation, no input/output
	// translation (Daedaluz-goserial's Termios.MakeRaw).
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD

	switch cfg.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
	if cfg.Parity == ParityEven || cfg.Parity == ParityOdd {
		t.Cflag |= unix.PARENB
		if cfg.Parity == ParityOdd {
			t.Cflag |= unix.PARODD
		}
	}
	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	if cfg.Flow == FlowHardware {
		t.Cflag |= unix.CRTSCTS
	} else {
		t.Cflag &^= unix.CRTSCTS
	}
	if cfg.Flow == FlowXonXoff {
		t.Iflag |= unix.IXON | unix.IXOFF
	}

	t.Cflag |= baudBits | unix.CREAD | unix.CLOCAL
	t.Ispeed = baudBits
	t.Ospeed = baudBits

	// Non-canonical reads return as soon as any data is available.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.file.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.file.Write(b) }
func (p *Port) Close() error                { return p.file.Close() }
