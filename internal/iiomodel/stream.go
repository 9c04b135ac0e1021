package iiomodel

import "github.com/rjboer/iiogo/internal/ioerr"

// Stream is a convenience iterator over a Buffer that multiplexes a
// fixed ring of Blocks (spec §3, §4.5).
type Stream struct {
	Buffer *Buffer
	Blocks []*Block
	Cur    int

	rx bool

	started     bool
	bufEnabled  bool
	allEnqueued bool
}

// NewStream allocates nbBlocks blocks of size bytesPerBlock on buf and
// returns a Stream ready to drive via NextBlock.
func NewStream(buf *Buffer, nbBlocks, bytesPerBlock int, rx bool) (*Stream, error) {
	if nbBlocks <= 0 {
		return nil, ioerr.New(ioerr.BadArgument, "nb_blocks must be positive")
	}
	blocks := make([]*Block, nbBlocks)
	for i := range blocks {
		blk, err := CreateBlock(buf, bytesPerBlock)
		if err != nil {
			return nil, err
		}
		blocks[i] = blk
	}
	return &Stream{Buffer: buf, Blocks: blocks, rx: rx}, nil
}

// NextBlock implements the zero-copy ring of depth nb_blocks (spec
// §4.5 Stream.next_block):
//   - First call, RX: pre-enqueue blocks 1..N-1, mark all_enqueued.
//   - First call, TX: return block 0 to the application to fill.
//   - Subsequent calls: enqueue the currently-held block; enable the
//     buffer (once); advance; once all_enqueued, dequeue the new
//     current block before returning it.
func (s *Stream) NextBlock() (*Block, error) {
	n := len(s.Blocks)

	if !s.started {
		s.started = true
		if s.rx {
			for i := 1; i < n; i++ {
				if err := EnqueueBlock(s.Blocks[i], 0, false, true); err != nil {
					return nil, err
				}
			}
			s.allEnqueued = true
		}
		return s.Blocks[0], nil
	}

	cur := s.Blocks[s.Cur]
	if err := EnqueueBlock(cur, cur.BytesUsed, cur.Cyclic, s.rx); err != nil {
		return nil, err
	}

	if !s.bufEnabled {
		if err := s.Buffer.Enable(); err != nil {
			return nil, err
		}
		s.bufEnabled = true
	}

	s.Cur = (s.Cur + 1) % n
	next := s.Blocks[s.Cur]

	if s.allEnqueued {
		if _, err := DequeueBlock(next, false); err != nil {
			return nil, err
		}
	} else if s.Cur == 0 {
		s.allEnqueued = true
	}

	return next, nil
}

// Close cancels the underlying buffer, tearing down the stream's ring.
func (s *Stream) Close() error {
	return s.Buffer.Cancel()
}
