package serial

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("/dev/ttyUSB0,115200,7,e,2,h")
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Device != "/dev/ttyUSB0" || cfg.Baud != 115200 || cfg.DataBits != 7 ||
		cfg.Parity != ParityEven || cfg.StopBits != 2 || cfg.Flow != FlowHardware {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	defaulted, err := ParseConfig("/dev/ttyUSB0,9600")
	if err != nil {
		t.Fatalf("ParseConfig (defaults) failed: %v", err)
	}
	if defaulted.DataBits != 8 || defaulted.Parity != ParityNone || defaulted.StopBits != 1 || defaulted.Flow != FlowNone {
		t.Fatalf("unexpected defaulted config: %+v", defaulted)
	}
}

func TestParseConfigRejectsMissingBaud(t *testing.T) {
	if _, err := ParseConfig("/dev/ttyUSB0"); ioerr.KindOf(err) != ioerr.BadArgument {
		t.Fatalf("expected BadArgument for missing baud, got %v", err)
	}
}

// newTestBackend wires a Backend directly to one end of an in-memory
// pipe, bypassing Open/termios configuration so the command protocol
// can be exercised without a real tty.
func newTestBackend(conn net.Conn) *Backend {
	return &Backend{port: conn, reader: bufio.NewReader(conn), buffers: make(map[any]*bufferState)}
}

func TestReadWriteAttrOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := newTestBackend(client)
	dev := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "frequency", Owner: dev}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sr := bufio.NewReader(server)

		line, _ := sr.ReadString('\n')
		if line != "READ_ATTR iio:device0 frequency\n" {
			t.Errorf("unexpected command: %q", line)
			return
		}
		fmt.Fprintf(server, "0 %d\n%s", len("2400000000"), "2400000000")

		line, _ = sr.ReadString('\n')
		if line != "WRITE_ATTR iio:device0 frequency 2500000000\n" {
			t.Errorf("unexpected command: %q", line)
			return
		}
		fmt.Fprint(server, "0 0\n")
	}()

	got, err := b.readAttr(a, 0)
	if err != nil {
		t.Fatalf("readAttr failed: %v", err)
	}
	if got != "2400000000" {
		t.Fatalf("unexpected value: %q", got)
	}

	n, err := b.writeAttr(a, "2500000000")
	if err != nil {
		t.Fatalf("writeAttr failed: %v", err)
	}
	if n != len("2500000000") {
		t.Fatalf("unexpected write length: %d", n)
	}
	<-done
}

func TestReadAttrPropagatesErrno(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := newTestBackend(client)
	dev := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "missing", Owner: dev}

	go func() {
		io.ReadAll(bufio.NewReader(server))
	}()
	go func() {
		fmt.Fprint(server, "-2 0\n")
	}()

	_, err := b.readAttr(a, 0)
	if ioerr.KindOf(err) != ioerr.NotFound {
		t.Fatalf("expected NotFound from -ENOENT, got %v", err)
	}
}

func TestBufferRoundTripOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := newTestBackend(client)
	dev := iiomodel.NewDevice("iio:device0")

	handle, err := b.createBuffer(dev, 0, nil)
	if err != nil {
		t.Fatalf("createBuffer failed: %v", err)
	}

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sr := bufio.NewReader(server)

		line, _ := sr.ReadString('\n')
		if line != "OPEN iio:device0 32\n" {
			t.Errorf("unexpected OPEN command: %q", line)
			return
		}
		fmt.Fprint(server, "0 0\n")

		line, _ = sr.ReadString('\n')
		if line != "READBUF iio:device0 32\n" {
			t.Errorf("unexpected READBUF command: %q", line)
			return
		}
		fmt.Fprintf(server, "0 %d\n", len(data))
		server.Write(data)

		line, _ = sr.ReadString('\n')
		if line != "WRITEBUF iio:device0 32\n" {
			t.Errorf("unexpected WRITEBUF command: %q", line)
			return
		}
		written := make([]byte, 32)
		io.ReadFull(sr, written)
		fmt.Fprint(server, "0 0\n")

		line, _ = sr.ReadString('\n')
		if line != "CLOSE iio:device0\n" {
			t.Errorf("unexpected CLOSE command: %q", line)
			return
		}
		fmt.Fprint(server, "0 0\n")
	}()

	if err := b.enableBuffer(handle, 32, true); err != nil {
		t.Fatalf("enableBuffer(true) failed: %v", err)
	}

	out := make([]byte, 32)
	n, err := b.readBuf(handle, out)
	if err != nil || n != 32 {
		t.Fatalf("readBuf failed: n=%d err=%v", n, err)
	}

	wn, err := b.writeBuf(handle, data)
	if err != nil || wn != 32 {
		t.Fatalf("writeBuf failed: n=%d err=%v", wn, err)
	}

	if err := b.freeBuffer(handle); err != nil {
		t.Fatalf("freeBuffer failed: %v", err)
	}
	<-done
}
