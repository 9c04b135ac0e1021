package iiomodel

import (
	"math/bits"
	"sync"

	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/internal/task"
)

// Block is a fixed-size byte region bound to exactly one Buffer (spec
// §3). Two provisioning modes: mapped (backend-owned DMA pointer) or
// heap (core-allocated, backend sees it only during enqueue/dequeue).
type Block struct {
	Buffer *Buffer

	Data      []byte
	BytesUsed int
	Cyclic    bool

	mapped     bool
	mappedSlot int

	mu         sync.Mutex
	token      *task.Token
	prevToken  *task.Token // awaited before a cyclic re-submit
}

// blockIOItem is the work element the Buffer's worker task processes.
type blockIOItem struct {
	block *Block
	rx    bool
}

// CreateBlock asks the backend for a mapped block; on Unsupported it
// falls back to heap allocation and enlarges buffer.blockSize to
// max(existing, size) (spec §4.5 create_block).
func CreateBlock(b *Buffer, size int) (*Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	blk := &Block{Buffer: b}

	ptr, err := b.ops.CreateBlockMapped(b.handle, size)
	switch {
	case err == nil:
		slot, ok := allocMappedSlot(&b.mappedBitmap)
		if !ok {
			return nil, ioerr.New(ioerr.BadArgument, "65th mapped block exceeds the 64-block limit")
		}
		blk.Data = ptr
		blk.mapped = true
		blk.mappedSlot = slot
	case ioerr.KindOf(err) == ioerr.Unsupported:
		blk.Data = make([]byte, size)
		blk.mapped = false
	default:
		return nil, err
	}

	if size > b.blockSize {
		b.blockSize = size
	}
	b.blocks = append(b.blocks, blk)
	return blk, nil
}

func allocMappedSlot(bitmap *uint64) (int, bool) {
	if bits.OnesCount64(*bitmap) >= MaxMappedBlocks {
		return 0, false
	}
	for i := 0; i < MaxMappedBlocks; i++ {
		if *bitmap&(1<<uint(i)) == 0 {
			*bitmap |= 1 << uint(i)
			return i, true
		}
	}
	return 0, false
}

// EnqueueBlock enqueues blk for I/O. bytesUsed==0 means "whole block".
// If a token is already outstanding on this block, returns Busy (spec:
// "already enqueued" error). Cyclic is rejected on RX (channel
// direction is a Buffer/Device-level concept; callers pass rx
// explicitly since Block itself does not know direction).
func EnqueueBlock(blk *Block, bytesUsed int, cyclic bool, rx bool) error {
	if bytesUsed == 0 {
		bytesUsed = len(blk.Data)
	}
	if cyclic && rx {
		return ioerr.New(ioerr.Permission, "cyclic mode is rejected on RX paths")
	}

	blk.mu.Lock()
	if blk.token != nil {
		blk.mu.Unlock()
		return ioerr.New(ioerr.Busy, "block already enqueued")
	}
	blk.BytesUsed = bytesUsed
	blk.Cyclic = cyclic
	old := blk.prevToken
	blk.mu.Unlock()

	_ = old
	tok, err := blk.Buffer.worker.Enqueue(&blockIOItem{block: blk, rx: rx})
	if err != nil {
		return err
	}
	blk.mu.Lock()
	blk.token = &tok
	blk.mu.Unlock()
	return nil
}

// DequeueBlock awaits blk's outstanding token (or returns Busy if
// nonblock and not yet done) and returns its result (spec §4.5
// dequeue_block). No token present is a Permission error.
func DequeueBlock(blk *Block, nonblock bool) (int, error) {
	blk.mu.Lock()
	tok := blk.token
	blk.mu.Unlock()
	if tok == nil {
		return 0, ioerr.New(ioerr.Permission, "block has no outstanding token")
	}

	var res task.Result
	var err error
	if nonblock {
		var ok bool
		res, ok = blk.Buffer.worker.TryResult(*tok)
		if !ok {
			return 0, ioerr.New(ioerr.Busy, "dequeue would block")
		}
		err = res.Err
	} else {
		res, err = blk.Buffer.worker.Sync(*tok)
	}

	blk.mu.Lock()
	blk.prevToken = blk.token
	blk.token = nil
	blk.mu.Unlock()

	if err != nil {
		return res.Value, err
	}
	return res.Value, nil
}

// blockIOFn is the worker function for heap blocks (spec §4.5
// block_io): RX calls the backend's readbuf; TX awaits any old token
// first (preserving cyclic order), then — if cyclic — re-enqueues a
// fresh token before calling writebuf so the ring stays primed.
func blockIOFn(ctx any, elm any) (int, error) {
	b := ctx.(*Buffer)
	it := elm.(*blockIOItem)
	blk := it.block

	if it.rx {
		n, err := b.ops.ReadBuf(b.handle, blk.Data[:blk.BytesUsed])
		return n, err
	}

	blk.mu.Lock()
	old := blk.prevToken
	cyclic := blk.Cyclic
	blk.mu.Unlock()
	if old != nil {
		_, _ = b.worker.Sync(*old)
	}

	if cyclic {
		tok, _ := b.worker.Enqueue(&blockIOItem{block: blk, rx: false})
		blk.mu.Lock()
		blk.prevToken = blk.token
		blk.token = &tok
		blk.mu.Unlock()
	}

	n, err := b.ops.WriteBuf(b.handle, blk.Data[:blk.BytesUsed])
	return n, err
}
