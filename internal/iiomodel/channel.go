package iiomodel

import "github.com/rjboer/iiogo/internal/attr"

// Endianness of a channel's scan-element storage.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// DataFormat describes a scan element's storage layout (spec §3).
type DataFormat struct {
	Endianness   Endianness
	Signed       bool
	Bits         uint32
	Length       uint32
	Repeat       uint32
	Shift        uint32
	WithScale    bool
	Scale        float64
	FullyDefined bool
}

// Channel is owned by exactly one Device (spec §3).
type Channel struct {
	Device *Device

	ID     string
	Name   string
	Output bool

	ScanElement bool
	ScanIndex   int32 // -1 if not a scan element

	Format   DataFormat
	Modifier string
	Type     string

	Attrs *attr.List // Kind == attr.Channel

	// Number is the monotonically assigned 0-based position within the
	// Device after canonical sort (spec §3); used as the bit index in
	// ChannelsMask.
	Number int
}

// NewChannel creates a channel with an initialized attribute list.
func NewChannel(id string, output bool) *Channel {
	return &Channel{
		ID:        id,
		Output:    output,
		ScanIndex: -1,
		Attrs:     attr.NewList(attr.Channel),
	}
}
