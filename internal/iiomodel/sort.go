package iiomodel

import "github.com/rjboer/iiogo/internal/ioerr"

// ReorderChannels performs the canonical channel sort (spec §4.3):
// ordered by (scan_index, shift) with negative scan_index sorted last;
// Number is assigned post-sort. Implemented as a bubble sort — the
// spec calls out determinism (XML round-trip comparability) over
// raw speed, and channel counts are small.
func ReorderChannels(d *Device) {
	chans := d.Channels
	n := len(chans)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if channelLess(chans[j+1], chans[j]) {
				chans[j], chans[j+1] = chans[j+1], chans[j]
			}
		}
	}
	for i, ch := range chans {
		ch.Number = i
	}
}

// channelLess reports whether a sorts before b under the canonical
// order: negative scan_index sorts last; otherwise by (scan_index, shift).
func channelLess(a, b *Channel) bool {
	aNeg := a.ScanIndex < 0
	bNeg := b.ScanIndex < 0
	if aNeg != bNeg {
		return bNeg // a is non-negative, b is negative => a < b
	}
	if aNeg && bNeg {
		return false // both "last": preserve relative order
	}
	if a.ScanIndex != b.ScanIndex {
		return a.ScanIndex < b.ScanIndex
	}
	return a.Format.Shift < b.Format.Shift
}

// SampleSize computes bytes per sample under mask for device d (spec
// §4.3 "get_sample_size"): walk channels in canonical order; for each
// scan-element channel selected by mask whose scan_index differs from
// the previous accepted channel's, align the cursor up to
// len=length/8*repeat and advance by len; channels sharing a scan_index
// alias and count once. After the loop, align up to the maximum len
// encountered.
func SampleSize(d *Device, mask *ChannelsMask) (int, error) {
	if mask.Width != len(d.Channels) {
		return 0, ioerr.New(ioerr.BadArgument, "mask width does not match device channel count")
	}

	cursor := 0
	maxLen := 0
	prevScanIndex := int32(-2) // sentinel distinct from "-1 = not scan element"
	havePrev := false

	for _, ch := range d.Channels {
		if !ch.ScanElement {
			continue
		}
		if !mask.Test(ch.Number) {
			continue
		}
		if havePrev && ch.ScanIndex == prevScanIndex {
			continue // alias: same scan_index counts once
		}
		l := int(ch.Format.Length/8) * int(ch.Format.Repeat)
		if l <= 0 {
			l = int(ch.Format.Length / 8)
		}
		if l > maxLen {
			maxLen = l
		}
		cursor = alignUp(cursor, l)
		cursor += l
		prevScanIndex = ch.ScanIndex
		havePrev = true
	}

	if maxLen > 0 {
		cursor = alignUp(cursor, maxLen)
	}
	return cursor, nil
}

func alignUp(cursor, align int) int {
	if align <= 0 {
		return cursor
	}
	rem := cursor % align
	if rem == 0 {
		return cursor
	}
	return cursor + (align - rem)
}
