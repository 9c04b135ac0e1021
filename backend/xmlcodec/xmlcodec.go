// Package xmlcodec builds an iiomodel.Context from the IIOD context
// XML schema (spec §6 "xml:" URI / canonical context dump) and emits it
// back, a structural round trip. Attribute I/O is left unbound: the
// XML schema only ever describes names/filenames, never live values,
// matching the teacher's sdrxml.SDRContext which likewise carries no
// attribute values (spec §6: "the XML form is a structural snapshot").
// Callers that need live values (backend/network after fetching a
// remote context) call attr.Bind with their own transport afterward.
package xmlcodec

import (
	"encoding/xml"
	"fmt"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/internal/sdrxml"
)

// Parse decodes raw IIOD context XML into a live Context tree.
func Parse(raw []byte) (*iiomodel.Context, error) {
	var sx sdrxml.SDRContext
	if err := sx.Parse(raw); err != nil {
		return nil, ioerr.Wrap(ioerr.Malformed, "xml context parse failed", err)
	}

	ctx := iiomodel.NewContext(sx.Name)
	ctx.Description = sx.Description
	ctx.Version = iiomodel.Version{Git: sx.VersionGit}
	fmt.Sscanf(sx.VersionMajor, "%d", &ctx.Version.Major)
	fmt.Sscanf(sx.VersionMinor, "%d", &ctx.Version.Minor)

	for _, ca := range sx.ContextAttribute {
		ctx.Attrs.Insert(&attr.Attribute{Kind: attr.Context, Name: ca.Name}, ca.Value)
	}

	for i := range sx.Device {
		sd := &sx.Device[i]
		dev := iiomodel.NewDevice(sd.ID)
		dev.Name = sd.Name
		dev.Label = sd.Label

		for _, a := range sd.Attribute {
			dev.DeviceAttrs.Insert(&attr.Attribute{Kind: attr.Device, Name: a.Name, Owner: dev}, "")
		}
		for _, a := range sd.DebugAttribute {
			dev.DebugAttrs.Insert(&attr.Attribute{Kind: attr.Debug, Name: a.Name, Owner: dev}, "")
		}
		for _, a := range sd.BufferAttribute {
			dev.BufferAttrs.Insert(&attr.Attribute{Kind: attr.Buffer, Name: a.Name, Owner: dev}, "")
		}

		for j := range sd.Channel {
			sc := &sd.Channel[j]
			ch := iiomodel.NewChannel(sc.ID, sc.Type == "output")
			ch.Name = sc.Name
			ch.Device = dev

			for _, a := range sc.Attribute {
				ch.Attrs = appendAttr(ch.Attrs, &attr.Attribute{
					Kind: attr.Channel, Name: a.Name, Filename: a.Filename, Owner: ch,
				})
			}

			if sc.ScanElementRaw != nil {
				ch.ScanElement = true
				if sc.ParsedFormat != nil {
					pf := sc.ParsedFormat
					ch.ScanIndex = int32(pf.Index)
					ch.Format = iiomodel.DataFormat{
						Signed:       pf.IsSigned,
						Bits:         pf.Bits,
						Length:       pf.Length,
						Repeat:       pf.Repeat,
						Shift:        pf.Shift,
						WithScale:    pf.WithScale,
						Scale:        pf.Scale,
						FullyDefined: pf.FullyDefined,
					}
					if pf.IsBE {
						ch.Format.Endianness = iiomodel.BigEndian
					}
				}
			}
			dev.Channels = append(dev.Channels, ch)
		}
		iiomodel.ReorderChannels(dev)
		ctx.AddDevice(dev)
	}
	return ctx, nil
}

func appendAttr(l *attr.List, a *attr.Attribute) *attr.List {
	if l == nil {
		l = attr.NewList(attr.Channel)
	}
	l.Insert(a, "")
	return l
}

// Emit renders ctx back into IIOD context XML, the inverse of Parse.
func Emit(ctx *iiomodel.Context) ([]byte, error) {
	sx := sdrxml.SDRContext{
		Name:         ctx.Name,
		Description:  ctx.Description,
		VersionMajor: fmt.Sprintf("%d", ctx.Version.Major),
		VersionMinor: fmt.Sprintf("%d", ctx.Version.Minor),
		VersionGit:   ctx.Version.Git,
	}

	for i, a := range ctx.Attrs.Attrs {
		v, _ := ctx.Attrs.ValueAt(i)
		sx.ContextAttribute = append(sx.ContextAttribute, sdrxml.ContextAttribute{Name: a.Name, Value: v})
	}

	for _, dev := range ctx.Devices {
		sd := sdrxml.DeviceEntry{ID: dev.ID, Name: dev.Name, Label: dev.Label}
		for _, a := range dev.DeviceAttrs.Attrs {
			sd.Attribute = append(sd.Attribute, sdrxml.DevAttribute{Name: a.Name})
		}
		for _, a := range dev.DebugAttrs.Attrs {
			sd.DebugAttribute = append(sd.DebugAttribute, sdrxml.DebugAttribute{Name: a.Name})
		}
		for _, a := range dev.BufferAttrs.Attrs {
			sd.BufferAttribute = append(sd.BufferAttribute, sdrxml.BufferAttribute{Name: a.Name})
		}

		for _, ch := range dev.Channels {
			sc := sdrxml.ChannelEntry{ID: ch.ID, Name: ch.Name, Type: direction(ch.Output)}
			if ch.Attrs != nil {
				for _, a := range ch.Attrs.Attrs {
					sc.Attribute = append(sc.Attribute, sdrxml.ChannelAttr{Name: a.Name, Filename: a.Filename})
				}
			}
			if ch.ScanElement {
				sc.ScanElementRaw = &sdrxml.ScanElement{
					Index:  fmt.Sprintf("%d", ch.ScanIndex),
					Format: formatString(ch.Format),
				}
				if ch.Format.WithScale {
					sc.ScanElementRaw.Scale = fmt.Sprintf("%g", ch.Format.Scale)
				}
			}
			sd.Channel = append(sd.Channel, sc)
		}
		sx.Device = append(sx.Device, sd)
	}

	out, err := xml.MarshalIndent(sx, "", "  ")
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "xml context emit failed", err)
	}
	return out, nil
}

func direction(output bool) string {
	if output {
		return "output"
	}
	return "input"
}

// formatString is the inverse of sdrxml.ParseScanFormat's regex:
// "le:s16/16>>0" style (spec §6 "scan format string").
func formatString(f iiomodel.DataFormat) string {
	endian := "le"
	if f.Endianness == iiomodel.BigEndian {
		endian = "be"
	}
	sign := "u"
	if f.Signed {
		sign = "s"
	}
	if f.FullyDefined {
		sign = map[bool]string{true: "S", false: "U"}[f.Signed]
	}
	repeat := ""
	if f.Repeat > 1 {
		repeat = fmt.Sprintf("X%d", f.Repeat)
	}
	return fmt.Sprintf("%s:%s%d/%d%s>>%d", endian, sign, f.Bits, f.Length, repeat, f.Shift)
}
