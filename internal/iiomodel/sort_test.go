package iiomodel

import "testing"

func makeScanChannel(id string, scanIndex int32, shift, lengthBits uint32) *Channel {
	ch := NewChannel(id, false)
	ch.ScanElement = true
	ch.ScanIndex = scanIndex
	ch.Format = DataFormat{Length: lengthBits, Shift: shift, Repeat: 1}
	return ch
}

func TestReorderChannelsCanonicalOrder(t *testing.T) {
	d := NewDevice("iio:device0")
	// Intentionally out of order, with a non-scan-element (negative index).
	c3 := makeScanChannel("voltage2", 2, 0, 16)
	cNeg := NewChannel("control", false) // ScanIndex defaults to -1
	c1 := makeScanChannel("voltage0", 0, 0, 16)
	c2 := makeScanChannel("voltage1", 1, 0, 16)
	d.Channels = []*Channel{c3, cNeg, c1, c2}

	ReorderChannels(d)

	want := []string{"voltage0", "voltage1", "voltage2", "control"}
	for i, w := range want {
		if d.Channels[i].ID != w {
			t.Fatalf("position %d = %q, want %q (order: %v)", i, d.Channels[i].ID, w, channelIDs(d.Channels))
		}
		if d.Channels[i].Number != i {
			t.Fatalf("Number for %q = %d, want %d", d.Channels[i].ID, d.Channels[i].Number, i)
		}
	}
}

func channelIDs(chans []*Channel) []string {
	ids := make([]string, len(chans))
	for i, c := range chans {
		ids[i] = c.ID
	}
	return ids
}

func TestSampleSizeDeterministicAndAligned(t *testing.T) {
	d := NewDevice("iio:device0")
	c0 := makeScanChannel("voltage0", 0, 0, 16)
	c1 := makeScanChannel("voltage1", 1, 0, 16)
	d.Channels = []*Channel{c0, c1}
	ReorderChannels(d)

	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)

	s1, err := SampleSize(d, mask)
	if err != nil {
		t.Fatalf("SampleSize failed: %v", err)
	}
	s2, err := SampleSize(d, mask)
	if err != nil {
		t.Fatalf("SampleSize failed: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("sample size not deterministic: %d vs %d", s1, s2)
	}
	if s1 != 4 {
		t.Fatalf("expected 4 bytes (2 channels x 2 bytes), got %d", s1)
	}
	if s1%2 != 0 {
		t.Fatalf("sample size %d not aligned to max channel stride", s1)
	}
}

func TestSampleSizeMaskWidthMismatch(t *testing.T) {
	d := NewDevice("iio:device0")
	d.Channels = []*Channel{makeScanChannel("voltage0", 0, 0, 16)}
	ReorderChannels(d)

	mask := NewMask(3)
	if _, err := SampleSize(d, mask); err == nil {
		t.Fatal("expected mask width mismatch error")
	}
}

func TestSampleSizeZeroChannelDevice(t *testing.T) {
	d := NewDevice("trigger0")
	mask := NewMask(0)
	size, err := SampleSize(d, mask)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected sample_size 0 for zero-channel device, got %d", size)
	}
}

func TestSampleSizeAliasedScanIndexCountsOnce(t *testing.T) {
	d := NewDevice("iio:device0")
	// Two channels sharing scan_index=0 (e.g. I and Q halves of one lane).
	a := makeScanChannel("voltage0_i", 0, 0, 16)
	b := makeScanChannel("voltage0_q", 0, 0, 16)
	d.Channels = []*Channel{a, b}
	ReorderChannels(d)

	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)

	size, err := SampleSize(d, mask)
	if err != nil {
		t.Fatalf("SampleSize failed: %v", err)
	}
	if size != 2 {
		t.Fatalf("expected aliased channels to count once (2 bytes), got %d", size)
	}
}

func TestIsTrigger(t *testing.T) {
	d := NewDevice("trigger0")
	d.Name = "ltc2983-trig0"
	if !d.IsTrigger() {
		t.Fatal("expected device to be identified as a trigger")
	}

	d2 := NewDevice("iio:device0")
	d2.Name = "ad9361-phy"
	d2.Channels = []*Channel{NewChannel("voltage0", false)}
	if d2.IsTrigger() {
		t.Fatal("device with channels must not be a trigger")
	}
}
