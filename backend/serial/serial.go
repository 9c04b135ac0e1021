package serial

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rjboer/iiogo/backend/xmlcodec"
	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

// Backend speaks the IIOD ASCII command language (spec §4.4) over an
// opened, configured Port. Unlike the network backend there is no
// framed message boundary below the command stream, so commands are
// serialized end-to-end under cmdMu rather than per sub-stream.
// portConn is the Read/Write/Close surface a Port provides; factored
// out so tests can exercise the command protocol over an in-memory
// pipe instead of a real tty.
type portConn interface {
	io.Reader
	io.Writer
	io.Closer
}

type Backend struct {
	cmdMu  sync.Mutex
	port   portConn
	reader *bufio.Reader

	bufMu   sync.Mutex
	buffers map[any]*bufferState
	nextID  int
}

type bufferState struct {
	dev    *iiomodel.Device
	opened bool
}

// New constructs a Backend and its Ops v-table. The port is opened on
// first Ops.Create with a "serial:DEVNODE,BAUD[,...]" URI.
func New() (*Backend, *backend.Ops) {
	b := &Backend{buffers: make(map[any]*bufferState)}
	ops := &backend.Ops{
		Create:       b.create,
		Shutdown:     b.shutdown,
		ReadAttr:     b.readAttr,
		WriteAttr:    b.writeAttr,
		CreateBuffer: b.createBuffer,
		FreeBuffer:   b.freeBuffer,
		EnableBuffer: b.enableBuffer,
		CancelBuffer: b.cancelBuffer,
		ReadBuf:      b.readBuf,
		WriteBuf:     b.writeBuf,
	}
	return b, ops
}

func (b *Backend) create(uri string) (*iiomodel.Context, error) {
	body := strings.TrimPrefix(uri, "serial:")
	cfg, err := ParseConfig(body)
	if err != nil {
		return nil, err
	}

	port, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	b.cmdMu.Lock()
	b.port = port
	b.reader = bufio.NewReader(port)
	raw, err := b.rawExchange("PRINT", nil)
	b.cmdMu.Unlock()
	if err != nil {
		port.Close()
		return nil, ioerr.Wrap(ioerr.Broken, "fetch remote XML context failed", err)
	}

	ctx, err := xmlcodec.Parse(raw)
	if err != nil {
		port.Close()
		return nil, err
	}
	return ctx, nil
}

func (b *Backend) shutdown(*iiomodel.Context) error {
	b.cmdMu.Lock()
	port := b.port
	b.port = nil
	b.reader = nil
	b.cmdMu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// rawExchange sends cmd+payload and returns the raw response: the XML
// document bytes for a "<?xml" reply, or the status-framed payload
// otherwise (spec §4.4 framing, matching iiod.Client.sendBinaryCommand).
// Callers must already hold cmdMu.
func (b *Backend) rawExchange(cmd string, payload []byte) ([]byte, error) {
	if b.port == nil {
		return nil, ioerr.New(ioerr.NotFound, "serial backend has no open port")
	}

	out := append([]byte(cmd+"\n"), payload...)
	if _, err := b.port.Write(out); err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "serial command write failed", err)
	}

	line, err := b.reader.ReadString('\n')
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "serial reply read failed", err)
	}
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "<?xml") {
		var sb strings.Builder
		sb.WriteString(line)
		sb.WriteString("\n")
		for {
			next, readErr := b.reader.ReadString('\n')
			sb.WriteString(next)
			if strings.Contains(next, "</context>") || readErr != nil {
				break
			}
		}
		return []byte(sb.String()), nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ioerr.New(ioerr.Malformed, "serial reply missing status line")
	}
	status, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Malformed, "serial reply has non-numeric status", err)
	}
	if status < 0 {
		return nil, ioerr.FromErrno(status)
	}
	if len(fields) == 1 {
		return nil, nil
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Malformed, "serial reply has non-numeric length", err)
	}
	resp := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(b.reader, resp); err != nil {
			return nil, ioerr.Wrap(ioerr.Broken, "serial payload read failed", err)
		}
	}
	return resp, nil
}

func target(a *attr.Attribute) (device, channel string, err error) {
	switch owner := a.Owner.(type) {
	case *iiomodel.Device:
		return owner.ID, "", nil
	case *iiomodel.Channel:
		if owner.Device == nil {
			return "", "", ioerr.New(ioerr.NotFound, "channel has no owning device")
		}
		return owner.Device.ID, owner.ID, nil
	case *iiomodel.Buffer:
		if owner.Device == nil {
			return "", "", ioerr.New(ioerr.NotFound, "buffer has no owning device")
		}
		return owner.Device.ID, "", nil
	default:
		return "", "", ioerr.New(ioerr.Unsupported, "attribute has no serial-resolvable owner")
	}
}

func (b *Backend) readAttr(a *attr.Attribute, cap int) (string, error) {
	device, channel, err := target(a)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("READ_ATTR %s %s", device, a.Name)
	if channel != "" {
		cmd = fmt.Sprintf("READ_ATTR %s %s %s", device, channel, a.Name)
	}

	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	resp, err := b.rawExchange(cmd, nil)
	if err != nil {
		return "", err
	}
	value := string(resp)
	if cap > 0 && len(value) > cap {
		value = value[:cap]
	}
	return value, nil
}

func (b *Backend) writeAttr(a *attr.Attribute, value string) (int, error) {
	device, channel, err := target(a)
	if err != nil {
		return 0, err
	}
	cmd := fmt.Sprintf("WRITE_ATTR %s %s %s", device, a.Name, value)
	if channel != "" {
		cmd = fmt.Sprintf("WRITE_ATTR %s %s %s %s", device, channel, a.Name, value)
	}

	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	if _, err := b.rawExchange(cmd, nil); err != nil {
		return 0, err
	}
	return len(value), nil
}

func (b *Backend) createBuffer(dev *iiomodel.Device, index int, mask *iiomodel.ChannelsMask) (any, error) {
	_ = index
	_ = mask
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	b.nextID++
	id := b.nextID
	b.buffers[id] = &bufferState{dev: dev}
	return id, nil
}

func (b *Backend) handleFor(h any) (*bufferState, error) {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	bs, ok := b.buffers[h]
	if !ok {
		return nil, ioerr.New(ioerr.BadArgument, "unknown buffer handle")
	}
	return bs, nil
}

func (b *Backend) freeBuffer(h any) error {
	b.bufMu.Lock()
	bs, ok := b.buffers[h]
	if ok {
		delete(b.buffers, h)
	}
	b.bufMu.Unlock()
	if !ok || !bs.opened {
		return nil
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	_, err := b.rawExchange(fmt.Sprintf("CLOSE %s", bs.dev.ID), nil)
	return err
}

func (b *Backend) enableBuffer(h any, nbSamples int, enable bool) error {
	bs, err := b.handleFor(h)
	if err != nil {
		return err
	}

	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	if enable {
		if _, err := b.rawExchange(fmt.Sprintf("OPEN %s %d", bs.dev.ID, nbSamples), nil); err != nil {
			return err
		}
		bs.opened = true
		return nil
	}
	if _, err := b.rawExchange(fmt.Sprintf("CLOSE %s", bs.dev.ID), nil); err != nil {
		return err
	}
	bs.opened = false
	return nil
}

func (b *Backend) cancelBuffer(h any) error {
	bs, err := b.handleFor(h)
	if err != nil {
		return err
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	_, err = b.rawExchange(fmt.Sprintf("CLOSE %s", bs.dev.ID), nil)
	return err
}

func (b *Backend) readBuf(h any, data []byte) (int, error) {
	bs, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	resp, err := b.rawExchange(fmt.Sprintf("READBUF %s %d", bs.dev.ID, len(data)), nil)
	if err != nil {
		return 0, err
	}
	return copy(data, resp), nil
}

func (b *Backend) writeBuf(h any, data []byte) (int, error) {
	bs, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	cmd := fmt.Sprintf("WRITEBUF %s %d", bs.dev.ID, len(data))
	if _, err := b.rawExchange(cmd, data); err != nil {
		return 0, err
	}
	return len(data), nil
}
