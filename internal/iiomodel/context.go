// Package iiomodel is the typed object model over the heterogeneous
// device tree libIIO exposes: Context → Device → Channel/Buffer/Block/
// Stream, plus Attributes (spec §3). Struct shapes are grounded on
// sdrxml.SDRContext/DeviceEntry/ChannelEntry, generalized from a
// firmware-XML-only schema into the live tree every backend populates
// and the rest of the library mutates.
package iiomodel

import (
	"sync"

	"github.com/rjboer/iiogo/internal/attr"
)

// Version is the Context's semantic version (major, minor, git tag).
type Version struct {
	Major int
	Minor int
	Git   string
}

// Backend is the polymorphic operation table the core calls into
// (spec §4.6). Defined in package backend; iiomodel only needs to hold
// a reference, so it is typed as `any` here and asserted by callers
// that know the concrete interface, avoiding an import cycle between
// iiomodel and backend.
type Backend any

// Context is the root of the object model. Immutable in structure
// after creation: no devices are added post-init, but attribute values
// may be updated in place.
type Context struct {
	mu sync.Mutex

	Name        string
	Description string
	Version     Version

	Attrs *attr.List // Kind == attr.Context

	Devices []*Device

	Backend       Backend
	BackendPriv   any
}

// NewContext creates an empty Context ready for a backend's Create
// routine to populate.
func NewContext(name string) *Context {
	return &Context{
		Name:  name,
		Attrs: attr.NewList(attr.Context),
	}
}

// Lock/Unlock serialize control-plane operations on this Context, per
// spec §5 "Ordering guarantees": requests on a given Context are
// serialised by the context mutex.
func (c *Context) Lock()   { c.mu.Lock() }
func (c *Context) Unlock() { c.mu.Unlock() }

// AddDevice appends a device during construction. Not exported for use
// after the Context is handed to the application (structural
// immutability, spec §3).
func (c *Context) AddDevice(d *Device) {
	d.Context = c
	c.Devices = append(c.Devices, d)
}

// FindDevice looks up a device by id, name, or label, in that order;
// first match wins (spec §4.3).
func (c *Context) FindDevice(s string) *Device {
	for _, d := range c.Devices {
		if d.ID == s {
			return d
		}
	}
	for _, d := range c.Devices {
		if d.Name == s {
			return d
		}
	}
	for _, d := range c.Devices {
		if d.Label == s {
			return d
		}
	}
	return nil
}

// Destroy tears down every owned Device recursively and idempotently.
func (c *Context) Destroy() {
	c.mu.Lock()
	devices := c.Devices
	c.Devices = nil
	c.mu.Unlock()

	for _, d := range devices {
		d.destroy()
	}
}
