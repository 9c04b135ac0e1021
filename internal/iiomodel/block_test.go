package iiomodel

import (
	"testing"

	"github.com/rjboer/iiogo/internal/ioerr"
)

// TestDequeueBlockNonblockBusyLeavesTokenOutstanding exercises a poll that
// lands before the worker has processed the item: the block must come
// back Busy with the token still in flight, not cancelled out from
// under an in-progress (or about-to-start) read.
func TestDequeueBlockNonblockBusyLeavesTokenOutstanding(t *testing.T) {
	d := testDevice(2)
	mask := NewMask(2)
	mask.Set(0)
	mask.Set(1)

	ops := &blockingOps{started: make(chan struct{}), release: make(chan struct{})}
	buf, err := CreateBuffer(d, 0, mask, ops)
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer buf.Close()

	blk, err := CreateBlock(buf, 16)
	if err != nil {
		t.Fatalf("CreateBlock failed: %v", err)
	}
	if err := buf.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if err := EnqueueBlock(blk, 0, false, true); err != nil {
		t.Fatalf("EnqueueBlock failed: %v", err)
	}

	<-ops.started

	if _, err := DequeueBlock(blk, true); ioerr.KindOf(err) != ioerr.Busy {
		t.Fatalf("expected Busy while read is still in flight, got %v", err)
	}

	close(ops.release)

	if _, err := DequeueBlock(blk, false); err != nil {
		t.Fatalf("blocking dequeue after release failed: %v", err)
	}
}

// blockingOps hangs ReadBuf until release is closed, letting a test poll
// a block that is guaranteed to be still outstanding.
type blockingOps struct {
	started chan struct{}
	release chan struct{}
}

func (o *blockingOps) CreateBuffer(dev *Device, index int, mask *ChannelsMask) (any, error) {
	return "handle", nil
}
func (o *blockingOps) FreeBuffer(handle any) error                              { return nil }
func (o *blockingOps) EnableBuffer(handle any, nbSamples int, enable bool) error { return nil }
func (o *blockingOps) CancelBuffer(handle any) error                            { return nil }

func (o *blockingOps) ReadBuf(handle any, data []byte) (int, error) {
	close(o.started)
	<-o.release
	return len(data), nil
}

func (o *blockingOps) WriteBuf(handle any, data []byte) (int, error) {
	return len(data), nil
}

func (o *blockingOps) CreateBlockMapped(handle any, size int) ([]byte, error) {
	return make([]byte, size), nil
}
func (o *blockingOps) FreeBlockMapped(handle any, ptr []byte) error { return nil }
