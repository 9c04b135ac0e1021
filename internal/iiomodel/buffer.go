package iiomodel

import (
	"sync"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/ioerr"
	"github.com/rjboer/iiogo/internal/task"
)

// BufferOps is the slice of the backend v-table (spec §4.6) the object
// model needs to drive Buffer/Block/Stream. Concrete backends (in
// package internal/backend and its implementations) satisfy this by
// adapting their Ops v-table; kept narrow here to avoid an import
// cycle between iiomodel and backend.
type BufferOps interface {
	CreateBuffer(dev *Device, index int, mask *ChannelsMask) (any, error)
	FreeBuffer(handle any) error
	EnableBuffer(handle any, nbSamples int, enable bool) error
	CancelBuffer(handle any) error
	ReadBuf(handle any, data []byte) (int, error)
	WriteBuf(handle any, data []byte) (int, error)
	// CreateBlockMapped returns (ptr, nil) for a mapped block, or
	// (nil, an Unsupported-kind error) to signal the core should fall back
	// to heap allocation (spec §4.5 create_block ENOSYS fallback).
	CreateBlockMapped(handle any, size int) ([]byte, error)
	FreeBlockMapped(handle any, ptr []byte) error
}

// Buffer is bound to a Device and an immutable copy of a ChannelsMask
// at creation (spec §3).
type Buffer struct {
	Device *Device
	Index  int
	Mask   *ChannelsMask

	Attrs *attr.List // duplicated from Device.BufferAttrs at creation

	mu        sync.Mutex
	blocks    []*Block
	blockSize int // size of the largest block created so far
	enabled   bool
	mappedBitmap uint64 // tracks up to 64 mapped blocks per buffer

	handle any
	ops    BufferOps
	worker *task.Task

	sampleSize int
}

// MaxMappedBlocks is the spec §3 limit: a mapped Block is at most one
// of 64 (bitmask-tracked) per buffer.
const MaxMappedBlocks = 64

// CreateBuffer validates sample_size > 0, clones mask, duplicates the
// device's buffer attribute list, creates the worker task, and asks
// the backend for a handle (spec §4.5 create_buffer).
func CreateBuffer(dev *Device, index int, mask *ChannelsMask, ops BufferOps) (*Buffer, error) {
	size, err := SampleSize(dev, mask)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, ioerr.New(ioerr.BadArgument, "sample_size must be positive")
	}

	b := &Buffer{
		Device:     dev,
		Index:      index,
		Mask:       mask.Clone(),
		Attrs:      duplicateBufferAttrs(dev.BufferAttrs, nil),
		ops:        ops,
		sampleSize: size,
	}
	b.Attrs = duplicateBufferAttrs(dev.BufferAttrs, b)
	b.worker = task.New(blockIOFn, b, false)

	handle, err := ops.CreateBuffer(dev, index, b.Mask)
	if err != nil {
		return nil, err
	}
	b.handle = handle
	return b, nil
}

// duplicateBufferAttrs copies the device's buffer-kind attribute list so
// each attribute's back-pointer (Owner) refers to this Buffer instead of
// the Device (spec §4.5: "duplicates the Device's buffer-attrlist so
// each attribute's back-pointer refers to this Buffer").
func duplicateBufferAttrs(src *attr.List, owner *Buffer) *attr.List {
	dst := attr.NewList(attr.Buffer)
	for _, a := range src.Attrs {
		dst.Insert(&attr.Attribute{Kind: attr.Buffer, Name: a.Name, Filename: a.Filename, Owner: owner}, "")
	}
	return dst
}

// SampleSize returns the cached sample size this buffer was created with.
func (b *Buffer) SampleSize() int { return b.sampleSize }

// Close frees every block then the buffer handle itself.
func (b *Buffer) Close() error {
	b.mu.Lock()
	blocks := b.blocks
	b.blocks = nil
	worker := b.worker
	b.mu.Unlock()

	for _, blk := range blocks {
		_ = b.freeBlockLocked(blk)
	}
	if worker != nil {
		worker.Destroy()
	}
	return b.ops.FreeBuffer(b.handle)
}

// Enable transitions disabled→enabled; requires at least one block.
// Enabling a buffer with no blocks is BadArgument (spec §4.5).
func (b *Buffer) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		return nil // no-op on an already-enabled buffer
	}
	if len(b.blocks) == 0 {
		return ioerr.New(ioerr.BadArgument, "cannot enable buffer with no blocks")
	}
	nbSamples := 0
	if b.sampleSize > 0 {
		nbSamples = b.blockSize / b.sampleSize
	}
	if err := b.ops.EnableBuffer(b.handle, nbSamples, true); err != nil {
		return err
	}
	b.worker.Start()
	b.enabled = true
	return nil
}

// Disable transitions enabled→disabled; requires zero allocated blocks
// is NOT required (only Enable requires >=1); disabling a quiescent
// buffer is a no-op (spec §8 idempotence law).
func (b *Buffer) Disable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return nil
	}
	nbSamples := 0
	if b.sampleSize > 0 {
		nbSamples = b.blockSize / b.sampleSize
	}
	if err := b.ops.EnableBuffer(b.handle, nbSamples, false); err != nil {
		return err
	}
	b.worker.Stop()
	b.enabled = false
	return nil
}

// Cancel stops the worker, invokes the backend cancel hook, then
// flushes pending tokens (spec §5 "Buffer" cancellation scope). A
// no-op on a never-enabled buffer.
func (b *Buffer) Cancel() error {
	b.mu.Lock()
	wasEnabled := b.enabled
	worker := b.worker
	b.mu.Unlock()

	if !wasEnabled {
		return nil
	}
	worker.Stop()
	err := b.ops.CancelBuffer(b.handle)
	worker.Flush()
	return err
}

func (b *Buffer) freeBlockLocked(blk *Block) error {
	if blk.mapped {
		if err := b.ops.FreeBlockMapped(b.handle, blk.Data); err != nil {
			return err
		}
		b.mappedBitmap &^= 1 << uint(blk.mappedSlot)
	}
	return nil
}
