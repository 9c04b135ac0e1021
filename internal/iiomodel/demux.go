package iiomodel

// SampleCallback is invoked once per (sample, channel) pair during
// demultiplex; it returns a per-call status that ForeachSample sums
// (or short-circuits on the first negative value), mirroring
// block_foreach_sample (spec §4.5).
type SampleCallback func(ch *Channel, data []byte) int

// ForeachSample iterates buf in strides of sampleSize. At each sample,
// it walks channels in canonical order; for each channel both present
// in hwMask (the backend's hardware mask) and in userMask, it aligns
// the cursor up to length/8, invokes cb with a slice into buf, then
// advances by length/8*repeat. Channels sharing scan_index alias and
// count once. Returns the sum of callback returns, or the first
// negative one encountered.
func ForeachSample(d *Device, hwMask, userMask *ChannelsMask, buf []byte, sampleSize int, cb SampleCallback) int {
	if sampleSize <= 0 {
		return 0
	}
	total := 0
	for off := 0; off+sampleSize <= len(buf); off += sampleSize {
		sample := buf[off : off+sampleSize]
		cursor := 0
		prevScanIndex := int32(-2)
		havePrev := false

		for _, ch := range d.Channels {
			if !ch.ScanElement {
				continue
			}
			if !hwMask.Test(ch.Number) || !userMask.Test(ch.Number) {
				continue
			}
			if havePrev && ch.ScanIndex == prevScanIndex {
				continue
			}
			byteLen := int(ch.Format.Length / 8)
			cursor = alignUp(cursor, byteLen)
			if cursor+byteLen > len(sample) {
				break
			}
			ret := cb(ch, sample[cursor:cursor+byteLen])
			if ret < 0 {
				return ret
			}
			total += ret

			repeat := int(ch.Format.Repeat)
			if repeat <= 0 {
				repeat = 1
			}
			cursor += byteLen * repeat
			prevScanIndex = ch.ScanIndex
			havePrev = true
		}
	}
	return total
}
