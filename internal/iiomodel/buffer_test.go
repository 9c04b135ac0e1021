package iiomodel

import (
	"sync"
	"testing"

	"github.com/rjboer/iiogo/internal/ioerr"
)

// mockOps is an in-memory BufferOps backing heap blocks only (forces
// the ENOSYS→heap fallback path for CreateBlockMapped).
type mockOps struct {
	mu      sync.Mutex
	written [][]byte
	readAt  int
	rxData  []byte
}

func (m *mockOps) CreateBuffer(dev *Device, index int, mask *ChannelsMask) (any, error) {
	return "handle", nil
}
func (m *mockOps) FreeBuffer(handle any) error                            { return nil }
func (m *mockOps) EnableBuffer(handle any, nbSamples int, enable bool) error { return nil }
func (m *mockOps) CancelBuffer(handle any) error                          { return nil }

func (m *mockOps) ReadBuf(handle any, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(data, m.rxData[m.readAt:])
	m.readAt += n
	return n, nil
}

func (m *mockOps) WriteBuf(handle any, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.written = append(m.written, cp)
	return len(data), nil
}

func (m *mockOps) CreateBlockMapped(handle any, size int) ([]byte, error) {
	return nil, ioerr.New(ioerr.Unsupported, "mock backend has no DMA mapping")
}
func (m *mockOps) FreeBlockMapped(handle any, ptr []byte) error { return nil }

func testDevice(nChans int) *Device {
	d := NewDevice("iio:device0")
	for i := 0; i < nChans; i++ {
		ch := makeScanChannel("voltage"+string(rune('0'+i)), int32(i), 0, 16)
		d.Channels = append(d.Channels, ch)
	}
	ReorderChannels(d)
	return d
}

func TestCreateBufferRejectsZeroWidthSampleSize(t *testing.T) {
	d := testDevice(0)
	mask := NewMask(0)
	if _, err := CreateBuffer(d, 0, mask, &mockOps{}); err == nil {
		t.Fatal("expected EINVAL-equivalent error for zero-channel mask")
	}
}

func TestBufferEnableRequiresBlocks(t *testing.T) {
	d := testDevice(2)
	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)

	buf, err := CreateBuffer(d, 0, mask, &mockOps{})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := buf.Enable(); err == nil {
		t.Fatal("expected error enabling buffer with no blocks")
	}
}

func TestEnableDisableNoOpOnQuiescentBuffer(t *testing.T) {
	d := testDevice(2)
	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)
	ops := &mockOps{}
	buf, err := CreateBuffer(d, 0, mask, ops)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := buf.Disable(); err != nil {
		t.Fatalf("disable on quiescent buffer should be a no-op, got %v", err)
	}
	if err := buf.Cancel(); err != nil {
		t.Fatalf("cancel on never-enabled buffer should be a no-op, got %v", err)
	}
}

func TestStreamFourBlocksTenCalls(t *testing.T) {
	d := testDevice(2) // 2 int16 channels => sample_size = 4
	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)

	ops := &mockOps{rxData: make([]byte, 64*1024)}
	buf, err := CreateBuffer(d, 0, mask, ops)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer buf.Close()

	const blockBytes = 1024 * 4 // 1024 samples * 4 bytes/sample
	stream, err := NewStream(buf, 4, blockBytes, true)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		blk, err := stream.NextBlock()
		if err != nil {
			t.Fatalf("NextBlock() #%d failed: %v", i, err)
		}
		if len(blk.Data) != blockBytes {
			t.Fatalf("block #%d size = %d, want %d", i, len(blk.Data), blockBytes)
		}
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("stream close failed: %v", err)
	}
}
