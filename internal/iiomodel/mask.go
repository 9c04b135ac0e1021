package iiomodel

import "github.com/rjboer/iiogo/internal/ioerr"

// ChannelsMask is an ordered bitset of width = Device's channel count,
// stored as an array of 32-bit words, most significant word last in Go
// slice order for convenient bit math (word 0 holds channels 0-31).
type ChannelsMask struct {
	Width int
	Words []uint32
}

// NewMask allocates a zeroed mask wide enough for width channels.
func NewMask(width int) *ChannelsMask {
	return &ChannelsMask{Width: width, Words: make([]uint32, (width+31)/32)}
}

// Clone returns an independent copy (masks are immutable after Buffer
// creation per spec §5, so Buffer creation clones rather than aliases).
func (m *ChannelsMask) Clone() *ChannelsMask {
	words := make([]uint32, len(m.Words))
	copy(words, m.Words)
	return &ChannelsMask{Width: m.Width, Words: words}
}

// Set marks channel number n as selected.
func (m *ChannelsMask) Set(n int) {
	if n < 0 || n >= m.Width {
		return
	}
	m.Words[n/32] |= 1 << uint(n%32)
}

// Clear unmarks channel number n.
func (m *ChannelsMask) Clear(n int) {
	if n < 0 || n >= m.Width {
		return
	}
	m.Words[n/32] &^= 1 << uint(n%32)
}

// Test reports whether channel number n is selected.
func (m *ChannelsMask) Test(n int) bool {
	if n < 0 || n >= m.Width {
		return false
	}
	return m.Words[n/32]&(1<<uint(n%32)) != 0
}

// Equal reports whether two masks of the same width have equal words.
func (m *ChannelsMask) Equal(o *ChannelsMask) bool {
	if m.Width != o.Width || len(m.Words) != len(o.Words) {
		return false
	}
	for i := range m.Words {
		if m.Words[i] != o.Words[i] {
			return false
		}
	}
	return true
}

// EncodeHex renders the mask as a hex string of ceil(nb_channels/32)
// 32-bit words, most significant word first, each word zero-padded to
// 8 hex digits, concatenated (spec §4.4 "mask encoding").
func (m *ChannelsMask) EncodeHex() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, len(m.Words)*8)
	for i := len(m.Words) - 1; i >= 0; i-- {
		w := m.Words[i]
		var buf [8]byte
		for j := 7; j >= 0; j-- {
			buf[j] = hexDigits[w&0xf]
			w >>= 4
		}
		out = append(out, buf[:]...)
	}
	return string(out)
}

// DecodeMask parses a hex mask string of the given channel-count width
// into a ChannelsMask, inverse of EncodeHex.
func DecodeMask(s string, width int) (*ChannelsMask, error) {
	nWords := (width + 31) / 32
	if len(s) != nWords*8 {
		return nil, ioerr.New(ioerr.Malformed, "mask string length mismatch")
	}
	m := NewMask(width)
	for i := 0; i < nWords; i++ {
		chunk := s[i*8 : i*8+8]
		var w uint32
		for _, c := range []byte(chunk) {
			w <<= 4
			switch {
			case c >= '0' && c <= '9':
				w |= uint32(c - '0')
			case c >= 'a' && c <= 'f':
				w |= uint32(c-'a') + 10
			case c >= 'A' && c <= 'F':
				w |= uint32(c-'A') + 10
			default:
				return nil, ioerr.New(ioerr.Malformed, "invalid hex digit in mask")
			}
		}
		m.Words[nWords-1-i] = w
	}
	return m, nil
}
