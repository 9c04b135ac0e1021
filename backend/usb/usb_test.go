package usb

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

// fakeDevice is an in-memory Device: each pipe gets its own OUT queue
// (what the backend wrote) and IN queue (what it will read back next),
// scripted per test rather than driven by a real USB stack.
type fakeDevice struct {
	controls []controlCall
	pipesIn  map[uint8][][]byte // queued IN replies per pipe, consumed in order
}

type controlCall struct {
	requestType, request uint8
	value, index         uint16
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{pipesIn: make(map[uint8][][]byte)}
}

func (f *fakeDevice) queueReply(pipe uint8, payload string) {
	reply := []byte(fmt.Sprintf("0 %d\n%s", len(payload), payload))
	f.pipesIn[pipe] = append(f.pipesIn[pipe], reply)
}

func (f *fakeDevice) ControlTransfer(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	f.controls = append(f.controls, controlCall{requestType, request, value, index})
	return 0, nil
}

func (f *fakeDevice) BulkTransfer(endpointAddr uint8, data []byte) (int, error) {
	pipe := endpointAddr &^ epDirectionIn
	in := endpointAddr&epDirectionIn != 0
	if !in {
		// OUT transfer: nothing to do, the test inspects queued
		// replies rather than captured writes.
		return len(data), nil
	}
	queue := f.pipesIn[pipe]
	if len(queue) == 0 {
		return 0, fmt.Errorf("no queued IN reply for pipe %d", pipe)
	}
	f.pipesIn[pipe] = queue[1:]
	n := copy(data, queue[0])
	return n, nil
}

func TestReadWriteAttr(t *testing.T) {
	dev := newFakeDevice()
	dev.queueReply(controlPipe, "2400000000")
	dev.queueReply(controlPipe, "")

	b, _ := New(dev)
	devModel := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "frequency", Owner: devModel}

	got, err := b.readAttr(a, 0)
	if err != nil {
		t.Fatalf("readAttr failed: %v", err)
	}
	if got != "2400000000" {
		t.Fatalf("unexpected value: %q", got)
	}

	n, err := b.writeAttr(a, "2500000000")
	if err != nil {
		t.Fatalf("writeAttr failed: %v", err)
	}
	if n != len("2500000000") {
		t.Fatalf("unexpected write length: %d", n)
	}
}

func TestReadAttrPropagatesErrno(t *testing.T) {
	dev := newFakeDevice()
	dev.pipesIn[controlPipe] = [][]byte{[]byte("-2 0\n")} // -ENOENT

	b, _ := New(dev)
	devModel := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "missing", Owner: devModel}

	_, err := b.readAttr(a, 0)
	if ioerr.KindOf(err) != ioerr.NotFound {
		t.Fatalf("expected NotFound from -ENOENT, got %v", err)
	}
}

func TestBufferLifecycleClaimsAndReleasesPipe(t *testing.T) {
	dev := newFakeDevice()
	devModel := iiomodel.NewDevice("iio:device0")

	b, _ := New(dev)
	handle, err := b.createBuffer(devModel, 0, nil)
	if err != nil {
		t.Fatalf("createBuffer failed: %v", err)
	}

	bs, err := b.handleFor(handle)
	if err != nil {
		t.Fatalf("handleFor failed: %v", err)
	}
	if bs.pipe != controlPipe+1 {
		t.Fatalf("expected first buffer pipe to be %d, got %d", controlPipe+1, bs.pipe)
	}

	dev.queueReply(controlPipe, "") // OPEN ack
	if err := b.enableBuffer(handle, 64, true); err != nil {
		t.Fatalf("enableBuffer(true) failed: %v", err)
	}

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	dev.pipesIn[bs.pipe] = append(dev.pipesIn[bs.pipe], append([]byte(fmt.Sprintf("0 %d\n", len(data))), data...))
	out := make([]byte, 64)
	n, err := b.readBuf(handle, out)
	if err != nil {
		t.Fatalf("readBuf failed: %v", err)
	}
	if n != 64 || !bytes.Equal(out, data) {
		t.Fatalf("unexpected buffer contents: n=%d", n)
	}

	dev.queueReply(bs.pipe, "") // WRITEBUF open-ack
	wn, err := b.writeBuf(handle, data)
	if err != nil {
		t.Fatalf("writeBuf failed: %v", err)
	}
	if wn != 64 {
		t.Fatalf("unexpected write count: %d", wn)
	}
	if !bs.pendingAck {
		t.Fatalf("expected writeBuf to leave a pending ack for the next sub-stream op")
	}

	// The next READBUF must first drain that pending ack.
	dev.queueReply(bs.pipe, "") // deferred WRITEBUF status
	dev.pipesIn[bs.pipe] = append(dev.pipesIn[bs.pipe], append([]byte(fmt.Sprintf("0 %d\n", len(data))), data...))
	if _, err := b.readBuf(handle, out); err != nil {
		t.Fatalf("readBuf after pending ack failed: %v", err)
	}
	if bs.pendingAck {
		t.Fatalf("expected pending ack to be drained")
	}

	dev.queueReply(controlPipe, "") // CLOSE ack
	if err := b.enableBuffer(handle, 0, false); err != nil {
		t.Fatalf("enableBuffer(false) failed: %v", err)
	}

	if err := b.freeBuffer(handle); err != nil {
		t.Fatalf("freeBuffer failed: %v", err)
	}
	if len(dev.controls) < 2 {
		t.Fatalf("expected OPEN_PIPE and CLOSE_PIPE control calls, got %d", len(dev.controls))
	}
	if dev.controls[0].request != reqOpenPipe || dev.controls[len(dev.controls)-1].request != reqClosePipe {
		t.Fatalf("unexpected control call sequence: %+v", dev.controls)
	}
}

func TestCancelBufferResetsPipe(t *testing.T) {
	dev := newFakeDevice()
	devModel := iiomodel.NewDevice("iio:device0")

	b, _ := New(dev)
	handle, err := b.createBuffer(devModel, 0, nil)
	if err != nil {
		t.Fatalf("createBuffer failed: %v", err)
	}
	bs, _ := b.handleFor(handle)
	bs.pendingAck = true

	if err := b.cancelBuffer(handle); err != nil {
		t.Fatalf("cancelBuffer failed: %v", err)
	}
	if bs.pendingAck {
		t.Fatalf("expected cancelBuffer to clear pendingAck")
	}
	last := dev.controls[len(dev.controls)-1]
	if last.request != reqResetPipes {
		t.Fatalf("expected RESET_PIPES control call, got request %d", last.request)
	}
}
