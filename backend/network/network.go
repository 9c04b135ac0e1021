// Package network backs a Context against a remote IIOD server over TCP
// (spec §4.6 "network backend", the "ip:" URI scheme). It is a thin
// wrapper over iiod.Client: attribute I/O and buffer control are each
// one IIOD command away, so this package's job is entirely routing the
// Context tree's Device/Channel/Attribute values to the client calls
// that take those same iiomodel types.
package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rjboer/iiogo/backend/xmlcodec"
	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/iiod"
)

// defaultPort is IIOD's well-known TCP port.
const defaultPort = "30431"

// Config configures reconnect behavior for the underlying client.
type Config struct {
	Reconnect *iiod.ReconnectConfig
}

// Backend owns the dialed iiod.Client and the set of open remote
// buffers, keyed by the opaque handle returned to iiomodel.
type Backend struct {
	cfg Config
	ops *backend.Ops // stashed so create can stamp it onto the returned Context

	mu     sync.Mutex
	client *iiod.Client

	buffers map[any]*bufferState
	nextID  int
}

type bufferState struct {
	dev    *iiomodel.Device
	opened bool
}

// New constructs a Backend and its Ops v-table. The client itself is
// not dialed until Ops.Create runs with a concrete "ip:" URI (spec §4.6
// "Create"), mirroring how internal/uri hands a bare address to a
// backend rather than a backend owning connection setup up front.
func New(cfg Config) (*Backend, *backend.Ops) {
	b := &Backend{cfg: cfg, buffers: make(map[any]*bufferState)}
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
	b.ops = ops
	return b, ops
}

// create dials uri (an "ip:host[:port]" URI, or a bare host[:port]),
// fetches the server's XML context, and parses it into a live Context.
func (b *Backend) create(uri string) (*iiomodel.Context, error) {
	addr := strings.TrimPrefix(uri, "ip:")
	if addr == "" {
		return nil, ioerr.New(ioerr.BadArgument, "network backend requires a host")
	}
	if !strings.Contains(addr, ":") {
		addr = addr + ":" + defaultPort
	}

	client, err := iiod.DialWithContext(context.Background(), addr, b.cfg.Reconnect)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Timeout, fmt.Sprintf("dial %s failed", addr), err)
	}

	raw, err := client.GetXMLContext()
	if err != nil {
		client.Close()
		return nil, ioerr.Wrap(ioerr.Broken, "fetch remote XML context failed", err)
	}

	ctx, err := xmlcodec.Parse([]byte(raw))
	if err != nil {
		client.Close()
		return nil, err
	}
	ctx.Backend = b.ops

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return ctx, nil
}

func (b *Backend) shutdown(*iiomodel.Context) error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// deviceOf resolves an attribute's owner down to the iiomodel.Device it
// belongs to. Buffer-kind attributes are addressed the same as their
// owning device, matching backend/local's sysfsPath simplification (no
// dedicated "buffer" sub-target exists in the IIOD text protocol).
func deviceOf(a *attr.Attribute) (*iiomodel.Device, error) {
	switch owner := a.Owner.(type) {
	case *iiomodel.Device:
		return owner, nil
	case *iiomodel.Channel:
		if owner.Device == nil {
			return nil, ioerr.New(ioerr.NotFound, "channel has no owning device")
		}
		return owner.Device, nil
	case *iiomodel.Buffer:
		if owner.Device == nil {
			return nil, ioerr.New(ioerr.NotFound, "buffer has no owning device")
		}
		return owner.Device, nil
	default:
		return nil, ioerr.New(ioerr.Unsupported, "attribute has no network-resolvable owner")
	}
}

func (b *Backend) readAttr(a *attr.Attribute, cap int) (string, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return "", ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	var value string
	var err error
	switch owner := a.Owner.(type) {
	case *iiomodel.Channel:
		value, err = client.ReadChannelAttr(owner, a.Name)
	default:
		dev, derr := deviceOf(a)
		if derr != nil {
			return "", derr
		}
		value, err = client.ReadDeviceAttr(dev, a.Name)
	}
	if err != nil {
		return "", ioerr.Wrap(ioerr.Broken, "remote attribute read failed", err)
	}
	if cap > 0 && len(value) > cap {
		value = value[:cap]
	}
	return value, nil
}

func (b *Backend) writeAttr(a *attr.Attribute, value string) (int, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return 0, ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	var err error
	switch owner := a.Owner.(type) {
	case *iiomodel.Channel:
		err = client.WriteChannelAttr(owner, a.Name, value)
	default:
		dev, derr := deviceOf(a)
		if derr != nil {
			return 0, derr
		}
		err = client.WriteDeviceAttr(dev, a.Name, value)
	}
	if err != nil {
		if errors.Is(err, iiod.ErrWriteNotSupported) {
			return 0, ioerr.Wrap(ioerr.Unsupported, "server protocol does not support attribute writes", err)
		}
		return 0, ioerr.Wrap(ioerr.Broken, "remote attribute write failed", err)
	}
	return len(value), nil
}

// createBuffer registers a handle for dev; the remote OPEN/CLOSE
// commands themselves run in EnableBuffer, since the IIOD protocol ties
// sample count to buffer open rather than to creation (spec §4.5
// create_buffer vs enable_buffer). Channel selection happens here:
// mask is pushed to the server as per-channel "en" attribute writes
// through client.EnableChannels; index is not used.
func (b *Backend) createBuffer(dev *iiomodel.Device, index int, mask *iiomodel.ChannelsMask) (any, error) {
	_ = index
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	if err := client.EnableChannels(dev, mask); err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "remote channel selection failed", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.buffers[id] = &bufferState{dev: dev}
	return id, nil
}

func (b *Backend) handleFor(h any) (*bufferState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bs, ok := b.buffers[h]
	if !ok {
		return nil, ioerr.New(ioerr.BadArgument, "unknown buffer handle")
	}
	return bs, nil
}

func (b *Backend) freeBuffer(h any) error {
	b.mu.Lock()
	bs, ok := b.buffers[h]
	if ok {
		delete(b.buffers, h)
	}
	client := b.client
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if bs.opened && client != nil {
		return client.CloseBuffer(bs.dev.ID)
	}
	return nil
}

func (b *Backend) enableBuffer(h any, nbSamples int, enable bool) error {
	bs, err := b.handleFor(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	if enable {
		if err := client.OpenBuffer(bs.dev.ID, nbSamples); err != nil {
			return ioerr.Wrap(ioerr.Broken, "remote buffer open failed", err)
		}
		bs.opened = true
		return nil
	}

	if err := client.CloseBuffer(bs.dev.ID); err != nil {
		return ioerr.Wrap(ioerr.Broken, "remote buffer close failed", err)
	}
	bs.opened = false
	return nil
}

// cancelBuffer closes the remote buffer to unblock any pending READBUF/
// WRITEBUF, the network equivalent of backend/local's fd-close
// cancellation (spec §4.5 cancel_buffer).
func (b *Backend) cancelBuffer(h any) error {
	bs, err := b.handleFor(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.CloseBuffer(bs.dev.ID)
}

// readBuf requests len(data) bytes from the remote buffer. The IIOD
// wire protocol's READBUF count and WriteBuffer's WRITEBUF length are
// both already byte counts in this client (WriteBufferWithContext sends
// "WRITEBUF dev %d" using len(data) directly), so len(data) is used
// symmetrically here rather than threading a separate sample width
// through this layer.
func (b *Backend) readBuf(h any, data []byte) (int, error) {
	bs, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return 0, ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	out, err := client.ReadBuffer(bs.dev.ID, len(data))
	if err != nil {
		return 0, ioerr.Wrap(ioerr.Broken, "remote buffer read failed", err)
	}
	n := copy(data, out)
	return n, nil
}

func (b *Backend) writeBuf(h any, data []byte) (int, error) {
	bs, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return 0, ioerr.New(ioerr.NotFound, "network backend has no active connection")
	}

	if err := client.WriteBuffer(bs.dev.ID, data); err != nil {
		return 0, ioerr.Wrap(ioerr.Broken, "remote buffer write failed", err)
	}
	return len(data), nil
}
