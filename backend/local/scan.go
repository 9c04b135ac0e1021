package local

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

// scanFormatRe matches an IIOD scan-element format string
// ("le:s16/16>>0"), the same grammar xmlcodec round-trips — grounded
// on sdrxml's own scanFmtRe (internal/sdrxml/xml_parser.go), reimplemented
// here since sdrxml's parser is tied to its own XML-only ChannelEntry type.
var scanFormatRe = regexp.MustCompile(`^(le|be):([sSuU])(\d+)/(\d+)(?:X(\d+))?>>(\d+)$`)

func parseScanFormat(s string) (iiomodel.DataFormat, error) {
	m := scanFormatRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return iiomodel.DataFormat{}, ioerr.New(ioerr.Malformed, "invalid scan-element format string: "+s)
	}

	endian := iiomodel.LittleEndian
	if m[1] == "be" {
		endian = iiomodel.BigEndian
	}
	signed, fully := false, false
	switch m[2] {
	case "s":
		signed = true
	case "u":
		signed = false
	case "S":
		signed, fully = true, true
	case "U":
		signed, fully = false, true
	}
	bits, _ := strconv.ParseUint(m[3], 10, 32)
	length, _ := strconv.ParseUint(m[4], 10, 32)
	repeat := uint64(1)
	if m[5] != "" {
		repeat, _ = strconv.ParseUint(m[5], 10, 32)
	}
	shift, _ := strconv.ParseUint(m[6], 10, 32)

	return iiomodel.DataFormat{
		Endianness:   endian,
		Signed:       signed,
		Bits:         uint32(bits),
		Length:       uint32(length),
		Repeat:       uint32(repeat),
		Shift:        uint32(shift),
		FullyDefined: fully,
	}, nil
}

// skipEntries are sysfs entries under a device directory that are
// never promoted to device attributes: subdirectories holding their
// own attribute namespace, and non-regular-file bookkeeping.
var skipEntries = map[string]bool{
	"subsystem": true, "power": true, "uevent": true, "of_node": true,
	"driver": true, "name": true,
}

var channelModifiers = []string{
	"x", "y", "z", "sqrt(x^2+y^2)", "both", "ir", "clear", "red", "green", "blue",
}

// parseChannelFile recognizes sysfs attribute filenames belonging to a
// channel: "{in,out}_<id>_<attr>" or "{in,out}_<id>_<modifier>_<attr>"
// (spec §9 "Dynamic attribute discovery"). The modifier list is
// matched against channelModifiers, data rather than grammar, per
// spec §9 ("the modifier list is data, not code").
func parseChannelFile(filename string) (output bool, chanID, modifier, attrName string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(filename, "in_"):
		output, rest = false, strings.TrimPrefix(filename, "in_")
	case strings.HasPrefix(filename, "out_"):
		output, rest = true, strings.TrimPrefix(filename, "out_")
	default:
		return false, "", "", "", false
	}

	parts := strings.Split(rest, "_")
	if len(parts) < 2 {
		return false, "", "", "", false
	}

	chanID = parts[0]
	tail := parts[1:]
	if isKnownModifier(tail[0]) && len(tail) > 1 {
		modifier = tail[0]
		tail = tail[1:]
	}
	attrName = strings.Join(tail, "_")
	return output, chanID, modifier, attrName, true
}

// create walks cfg.sysfsRoot() and builds a Context with one Device
// per "iio:deviceN" subdirectory (spec §9 "Dynamic attribute
// discovery"). Plain attribute files are collected first; a
// post-processing pass then promotes filenames matching
// "{in,out}_<id>[modifier]_*" into the owning channel, exactly as
// spec.md describes.
func (b *Backend) create(uri string) (*iiomodel.Context, error) {
	_ = uri
	root := b.cfg.sysfsRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.NotFound, "read sysfs root failed", err)
	}

	ctx := iiomodel.NewContext("local")
	ctx.Backend = b.ops
	var deviceDirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "iio:device") {
			deviceDirs = append(deviceDirs, e.Name())
		}
	}
	sort.Strings(deviceDirs)

	for _, name := range deviceDirs {
		dev, err := b.scanDevice(root, name)
		if err != nil {
			return nil, err
		}
		ctx.AddDevice(dev)
	}
	return ctx, nil
}

func (b *Backend) scanDevice(root, id string) (*iiomodel.Device, error) {
	devDir := filepath.Join(root, id)
	dev := iiomodel.NewDevice(id)

	if name, err := os.ReadFile(filepath.Join(devDir, "name")); err == nil {
		dev.Name = strings.TrimSpace(string(name))
	}

	files, err := os.ReadDir(devDir)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.Broken, "read device directory failed", err)
	}

	channels := make(map[string]*iiomodel.Channel)
	channelOrder := []string{}
	getChannel := func(id string, output bool) *iiomodel.Channel {
		if ch, ok := channels[id]; ok {
			return ch
		}
		ch := iiomodel.NewChannel(id, output)
		channels[id] = ch
		channelOrder = append(channelOrder, id)
		return ch
	}

	for _, f := range files {
		fname := f.Name()
		if f.IsDir() || skipEntries[fname] {
			continue
		}

		if output, chanID, modifier, attrName, ok := parseChannelFile(fname); ok {
			ch := getChannel(chanID, output)
			if modifier != "" {
				ch.Modifier = modifier
			}
			insertChannelAttr(ch, b, fname, attrName)
			continue
		}

		insertDeviceAttr(dev, b, fname)
	}

	if se, err := os.ReadDir(filepath.Join(devDir, "scan_elements")); err == nil {
		for _, f := range se {
			fname := f.Name()
			if !strings.HasSuffix(fname, "_type") {
				continue
			}
			base := strings.TrimSuffix(strings.TrimPrefix(fname, "in_"), "_en")
			base = strings.TrimPrefix(base, "out_")
			base = strings.TrimSuffix(base, "_type")
			ch, ok := lookupChannelByPrefix(channels, base)
			if !ok {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(devDir, "scan_elements", fname))
			if err != nil {
				continue
			}
			format, err := parseScanFormat(string(raw))
			if err != nil {
				continue
			}
			ch.Format = format
			ch.ScanElement = true
			if idx, err := os.ReadFile(filepath.Join(devDir, "scan_elements", strings.TrimSuffix(fname, "_type")+"_index")); err == nil {
				if n, err := strconv.ParseInt(strings.TrimSpace(string(idx)), 10, 32); err == nil {
					ch.ScanIndex = int32(n)
				}
			}
		}
	}

	for _, id := range channelOrder {
		dev.Channels = append(dev.Channels, channels[id])
	}
	for _, ch := range dev.Channels {
		ch.Device = dev
	}
	iiomodel.ReorderChannels(dev)
	return dev, nil
}

func isKnownModifier(m string) bool {
	for _, known := range channelModifiers {
		if m == known {
			return true
		}
	}
	return false
}

func lookupChannelByPrefix(channels map[string]*iiomodel.Channel, id string) (*iiomodel.Channel, bool) {
	ch, ok := channels[id]
	return ch, ok
}

func insertDeviceAttr(dev *iiomodel.Device, b *Backend, filename string) {
	value, err := os.ReadFile(filepath.Join(b.cfg.sysfsRoot(), dev.ID, filename))
	if err != nil {
		return
	}
	a := &attr.Attribute{Kind: attr.Device, Name: filename, Filename: filename, Owner: dev}
	dev.DeviceAttrs.Insert(a, strings.TrimSpace(string(value)))
}

func insertChannelAttr(ch *iiomodel.Channel, b *Backend, filename, attrName string) {
	a := &attr.Attribute{Kind: attr.Channel, Name: attrName, Filename: filename, Owner: ch}
	ch.Attrs.Insert(a, "")
}
