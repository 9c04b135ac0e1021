package iiomodel

import (
	"strings"

	"github.com/rjboer/iiogo/internal/attr"
)

// Device is owned by exactly one Context for life (spec §3). It carries
// three of the four attr-kind lists (device, debug, buffer) — channel
// attrs live on Channel, per spec §3.
type Device struct {
	Context *Context

	ID    string
	Name  string
	Label string

	DeviceAttrs *attr.List
	DebugAttrs  *attr.List
	BufferAttrs *attr.List

	Channels []*Channel

	BackendPriv any
}

// NewDevice creates a device with its three attribute lists initialized.
func NewDevice(id string) *Device {
	return &Device{
		ID:          id,
		DeviceAttrs: attr.NewList(attr.Device),
		DebugAttrs:  attr.NewList(attr.Debug),
		BufferAttrs: attr.NewList(attr.Buffer),
	}
}

// IsTrigger reports whether this device is a "trigger": zero channels,
// a name, and an id prefixed "trigger" (spec §3).
func (d *Device) IsTrigger() bool {
	return len(d.Channels) == 0 && d.Name != "" && strings.HasPrefix(d.ID, "trigger")
}

// FindChannel looks up a channel by id or name within this device;
// direction must also match (spec §4.3).
func (d *Device) FindChannel(s string, output bool) *Channel {
	for _, ch := range d.Channels {
		if ch.Output != output {
			continue
		}
		if ch.ID == s || ch.Name == s {
			return ch
		}
	}
	return nil
}

func (d *Device) destroy() {
	for _, ch := range d.Channels {
		ch.Device = nil
	}
	d.Channels = nil
}
