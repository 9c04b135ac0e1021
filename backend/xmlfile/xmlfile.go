// Package xmlfile backs a Context against a file-backed or in-memory
// XML document (spec §6/§9 "xml:" URI as a standalone backend). It
// reuses backend/xmlcodec's structural Parse for the one-time tree
// conversion, then layers live read_attr/write_attr on top by walking
// back into the parsed sdrxml.SDRContext and mutating its chardata in
// place: read returns the matching node's text value; write updates
// it and, when a path was given, re-serializes the whole document.
package xmlfile

import (
	"encoding/xml"
	"os"
	"strings"
	"sync"

	"github.com/rjboer/iiogo/backend/xmlcodec"
	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/internal/sdrxml"
)

// Backend holds the parsed document and, when the Context was created
// from a file rather than a literal document, the path writes re-save to.
type Backend struct {
	mu   sync.Mutex
	path string
	sx   sdrxml.SDRContext
}

// New constructs a Backend and its Ops v-table.
func New() (*Backend, *backend.Ops) {
	b := &Backend{}
	ops := &backend.Ops{
		Create:    b.create,
		ReadAttr:  b.readAttr,
		WriteAttr: b.writeAttr,
	}
	return b, ops
}

// create accepts either a raw XML document (detected by its "<?xml"
// prefix) or an "xml:" URI whose remainder is a filesystem path (spec
// §4.6 URI scheme: "xml:PATH or the raw XML document itself").
func (b *Backend) create(uri string) (*iiomodel.Context, error) {
	var raw []byte
	switch {
	case strings.HasPrefix(strings.TrimSpace(uri), "<?xml"):
		raw = []byte(uri)
	default:
		path := strings.TrimPrefix(uri, "xml:")
		if path == "" {
			return nil, ioerr.New(ioerr.BadArgument, "xml backend requires a path or a raw document")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ioerr.Wrap(ioerr.NotFound, "read xml document failed", err)
		}
		raw = data
		b.path = path
	}

	b.mu.Lock()
	err := b.sx.Parse(raw)
	b.mu.Unlock()
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Malformed, "xml document parse failed", err)
	}

	return xmlcodec.Parse(raw)
}

func (b *Backend) target(a *attr.Attribute) (devID, chID string, err error) {
	switch owner := a.Owner.(type) {
	case *iiomodel.Device:
		return owner.ID, "", nil
	case *iiomodel.Channel:
		if owner.Device == nil {
			return "", "", ioerr.New(ioerr.NotFound, "channel has no owning device")
		}
		return owner.Device.ID, owner.ID, nil
	default:
		return "", "", ioerr.New(ioerr.Unsupported, "attribute has no xml-resolvable owner")
	}
}

func (b *Backend) findDevice(id string) (*sdrxml.DeviceEntry, error) {
	for i := range b.sx.Device {
		if b.sx.Device[i].ID == id {
			return &b.sx.Device[i], nil
		}
	}
	return nil, ioerr.New(ioerr.NotFound, "device not present in xml document: "+id)
}

func (b *Backend) readAttr(a *attr.Attribute, cap int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value, err := b.lookup(a)
	if err != nil {
		return "", err
	}
	if cap > 0 && len(value) > cap {
		value = value[:cap]
	}
	return value, nil
}

func (b *Backend) writeAttr(a *attr.Attribute, value string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assign(a, value); err != nil {
		return 0, err
	}
	if b.path != "" {
		out, err := xml.MarshalIndent(&b.sx, "", "  ")
		if err != nil {
			return 0, ioerr.Wrap(ioerr.Broken, "xml re-serialize failed", err)
		}
		if err := os.WriteFile(b.path, out, 0644); err != nil {
			return 0, ioerr.Wrap(ioerr.Broken, "xml write-back failed", err)
		}
	}
	return len(value), nil
}

func (b *Backend) lookup(a *attr.Attribute) (string, error) {
	devID, chID, err := b.target(a)
	if err != nil {
		return "", err
	}
	dev, err := b.findDevice(devID)
	if err != nil {
		return "", err
	}

	if chID != "" {
		for i := range dev.Channel {
			if dev.Channel[i].ID != chID {
				continue
			}
			for j := range dev.Channel[i].Attribute {
				if dev.Channel[i].Attribute[j].Name == a.Name {
					return dev.Channel[i].Attribute[j].Text, nil
				}
			}
			return "", ioerr.New(ioerr.NotFound, "channel attribute not present: "+a.Name)
		}
		return "", ioerr.New(ioerr.NotFound, "channel not present in xml document: "+chID)
	}

	switch a.Kind {
	case attr.Device:
		for j := range dev.Attribute {
			if dev.Attribute[j].Name == a.Name {
				return dev.Attribute[j].Text, nil
			}
		}
	case attr.Debug:
		for j := range dev.DebugAttribute {
			if dev.DebugAttribute[j].Name == a.Name {
				return dev.DebugAttribute[j].Text, nil
			}
		}
	case attr.Buffer:
		for j := range dev.BufferAttribute {
			if dev.BufferAttribute[j].Name == a.Name {
				return dev.BufferAttribute[j].Text, nil
			}
		}
	}
	return "", ioerr.New(ioerr.NotFound, "attribute not present in xml document: "+a.Name)
}

func (b *Backend) assign(a *attr.Attribute, value string) error {
	devID, chID, err := b.target(a)
	if err != nil {
		return err
	}
	dev, err := b.findDevice(devID)
	if err != nil {
		return err
	}

	if chID != "" {
		for i := range dev.Channel {
			if dev.Channel[i].ID != chID {
				continue
			}
			for j := range dev.Channel[i].Attribute {
				if dev.Channel[i].Attribute[j].Name == a.Name {
					dev.Channel[i].Attribute[j].Text = value
					return nil
				}
			}
			return ioerr.New(ioerr.NotFound, "channel attribute not present: "+a.Name)
		}
		return ioerr.New(ioerr.NotFound, "channel not present in xml document: "+chID)
	}

	switch a.Kind {
	case attr.Device:
		for j := range dev.Attribute {
			if dev.Attribute[j].Name == a.Name {
				dev.Attribute[j].Text = value
				return nil
			}
		}
	case attr.Debug:
		for j := range dev.DebugAttribute {
			if dev.DebugAttribute[j].Name == a.Name {
				dev.DebugAttribute[j].Text = value
				return nil
			}
		}
	case attr.Buffer:
		for j := range dev.BufferAttribute {
			if dev.BufferAttribute[j].Name == a.Name {
				dev.BufferAttribute[j].Text = value
				return nil
			}
		}
	}
	return ioerr.New(ioerr.NotFound, "attribute not present in xml document: "+a.Name)
}
