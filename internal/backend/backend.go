// Package backend defines the polymorphic operation table every
// transport (local, network, usb, serial, xmlcodec) implements to back
// a Context (spec §4.6). The table mirrors the teacher's Client method
// surface (iiod.Client: ReadAttr/WriteAttr/CreateBuffer/ReadBuffer/...)
// generalized from one fixed wire protocol to an interface any
// transport can satisfy.
package backend

import (
	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

// Ops is the full v-table a backend may implement. Every field
// defaults to nil; the adapters below (AsBufferOps, AsRawIO) return
// ErrUnsupported for any operation a concrete backend leaves unset,
// matching spec §4.6's "ENOSYS-by-default" contract.
type Ops struct {
	Create func(uri string) (*iiomodel.Context, error)
	Scan   func() ([]ContextInfo, error)
	Clone  func(ctx *iiomodel.Context) (*iiomodel.Context, error)
	Shutdown func(ctx *iiomodel.Context) error

	SetTimeoutMs func(ctx *iiomodel.Context, ms int) error

	GetTrigger func(dev *iiomodel.Device) (*iiomodel.Device, error)
	SetTrigger func(dev *iiomodel.Device, trig *iiomodel.Device) error

	ReadAttr  func(a *attr.Attribute, cap int) (string, error)
	WriteAttr func(a *attr.Attribute, value string) (int, error)

	SetKernelBuffersCount func(dev *iiomodel.Device, n int) error

	CreateBuffer func(dev *iiomodel.Device, index int, mask *iiomodel.ChannelsMask) (any, error)
	FreeBuffer   func(handle any) error
	EnableBuffer func(handle any, nbSamples int, enable bool) error
	CancelBuffer func(handle any) error
	ReadBuf      func(handle any, data []byte) (int, error)
	WriteBuf     func(handle any, data []byte) (int, error)

	// CreateBlock/FreeBlock provision the backing storage for a Block;
	// enqueue/dequeue ordering itself is owned by the Buffer's worker
	// task (internal/task), not the backend (spec §4.5).
	CreateBlock func(handle any, size int) ([]byte, error)
	FreeBlock   func(handle any, ptr []byte) error

	OpenEvents  func(dev *iiomodel.Device) error
	CloseEvents func(dev *iiomodel.Device) error
	ReadEvent   func(dev *iiomodel.Device) (Event, error)
}

// ContextInfo is one entry returned by Scan (spec §4.6 "scan").
type ContextInfo struct {
	Description string
	URI         string
}

// Event is a single entry read off a device's event file descriptor.
type Event struct {
	Type    uint16
	Channel int16
	Diff    bool
	Dir     uint8
	Timestamp int64
}

var unsupported = ioerr.New(ioerr.Unsupported, "operation not implemented by this backend")

// bufferAdapter satisfies iiomodel.BufferOps by calling through an Ops
// table, letting Buffer/Block/Stream stay backend-agnostic (spec §4.6;
// kept as an unexported adapter rather than having iiomodel depend on
// this package, avoiding the import cycle documented in
// iiomodel/buffer.go).
type bufferAdapter struct {
	ops *Ops
}

// AsBufferOps wraps ops so it satisfies iiomodel.BufferOps.
func AsBufferOps(ops *Ops) iiomodel.BufferOps {
	return &bufferAdapter{ops: ops}
}

func (a *bufferAdapter) CreateBuffer(dev *iiomodel.Device, index int, mask *iiomodel.ChannelsMask) (any, error) {
	if a.ops.CreateBuffer == nil {
		return nil, unsupported
	}
	return a.ops.CreateBuffer(dev, index, mask)
}

func (a *bufferAdapter) FreeBuffer(handle any) error {
	if a.ops.FreeBuffer == nil {
		return unsupported
	}
	return a.ops.FreeBuffer(handle)
}

func (a *bufferAdapter) EnableBuffer(handle any, nbSamples int, enable bool) error {
	if a.ops.EnableBuffer == nil {
		return unsupported
	}
	return a.ops.EnableBuffer(handle, nbSamples, enable)
}

func (a *bufferAdapter) CancelBuffer(handle any) error {
	if a.ops.CancelBuffer == nil {
		return unsupported
	}
	return a.ops.CancelBuffer(handle)
}

func (a *bufferAdapter) ReadBuf(handle any, data []byte) (int, error) {
	if a.ops.ReadBuf == nil {
		return 0, unsupported
	}
	return a.ops.ReadBuf(handle, data)
}

func (a *bufferAdapter) WriteBuf(handle any, data []byte) (int, error) {
	if a.ops.WriteBuf == nil {
		return 0, unsupported
	}
	return a.ops.WriteBuf(handle, data)
}

func (a *bufferAdapter) CreateBlockMapped(handle any, size int) ([]byte, error) {
	if a.ops.CreateBlock == nil {
		return nil, unsupported
	}
	return a.ops.CreateBlock(handle, size)
}

func (a *bufferAdapter) FreeBlockMapped(handle any, ptr []byte) error {
	if a.ops.FreeBlock == nil {
		return unsupported
	}
	return a.ops.FreeBlock(handle, ptr)
}

// rawIOAdapter satisfies attr.RawIO by calling through an Ops table, so
// every attribute in a Context created by this backend can be bound to
// a single implementation regardless of Kind (spec §4.2 "Bind").
type rawIOAdapter struct {
	ops *Ops
}

// AsRawIO wraps ops so it satisfies attr.RawIO.
func AsRawIO(ops *Ops) attr.RawIO {
	return &rawIOAdapter{ops: ops}
}

func (a *rawIOAdapter) ReadRaw(at *attr.Attribute, cap int) (string, error) {
	if a.ops.ReadAttr == nil {
		return "", unsupported
	}
	return a.ops.ReadAttr(at, cap)
}

func (a *rawIOAdapter) WriteRaw(at *attr.Attribute, value string) (int, error) {
	if a.ops.WriteAttr == nil {
		return 0, unsupported
	}
	return a.ops.WriteAttr(at, value)
}
