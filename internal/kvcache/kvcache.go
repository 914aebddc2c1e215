// Package kvcache describes the key/value cache buffers the attention kernels
// read. The dispatcher treats them as opaque producers of the kernel's cache
// parameter block; allocation and cache writes happen elsewhere.
package kvcache

import (
	"encoding/binary"

	"github.com/samcharles93/xqa/internal/driver"
)

// Buffer is a KV cache as seen by a kernel launch.
type Buffer interface {
	// Paged reports whether the cache is a block array.
	Paged() bool
	// KernelParams packs the cache parameter block, given the device array of
	// per-sequence lengths.
	KernelParams(seqLens driver.DevicePtr) driver.Arg
}

// LinearBuffer is a contiguous cache: one slab of MaxSeqLen tokens per
// (sequence, K or V).
type LinearBuffer struct {
	Data driver.DevicePtr
	// MaxSeqLen is the token capacity of every sequence.
	MaxSeqLen int
}

func (b *LinearBuffer) Paged() bool { return false }

// KernelParams lays out {data, seqLens, capacity}.
func (b *LinearBuffer) KernelParams(seqLens driver.DevicePtr) driver.Arg {
	out := make(driver.Arg, 24)
	binary.LittleEndian.PutUint64(out[0:], uint64(b.Data))
	binary.LittleEndian.PutUint64(out[8:], uint64(seqLens))
	binary.LittleEndian.PutUint32(out[16:], uint32(b.MaxSeqLen))
	return out
}

// BlockArray is a paged cache. BlockOffsets indexes pages inside the pool
// for every (sequence, K or V, page) triple.
type BlockArray struct {
	PrimaryPool     driver.DevicePtr
	BlockOffsets    driver.DevicePtr
	TokensPerBlock  int
	MaxBlocksPerSeq int
}

func (b *BlockArray) Paged() bool { return true }

// KernelParams lays out {pool, pageList, seqLens, maxNbPagesPerSeq}.
func (b *BlockArray) KernelParams(seqLens driver.DevicePtr) driver.Arg {
	out := make(driver.Arg, 32)
	binary.LittleEndian.PutUint64(out[0:], uint64(b.PrimaryPool))
	binary.LittleEndian.PutUint64(out[8:], uint64(b.BlockOffsets))
	binary.LittleEndian.PutUint64(out[16:], uint64(seqLens))
	binary.LittleEndian.PutUint32(out[24:], uint32(b.MaxBlocksPerSeq))
	return out
}
