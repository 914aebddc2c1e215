package xqa

import (
	"encoding/binary"
	"math"

	"github.com/samcharles93/xqa/internal/driver"
)

// launch is the argument set and shape of one kernel invocation. Each
// calling convention is its own type with a fixed field list.
type launch interface {
	args() []driver.Arg
	grid() driver.Dim3
	block() driver.Dim3
}

const threadsPerBlock = 128

func u32Arg(v uint32) driver.Arg {
	b := make(driver.Arg, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func f32Arg(v float32) driver.Arg {
	return u32Arg(math.Float32bits(v))
}

func ptrArg(p driver.DevicePtr) driver.Arg {
	b := make(driver.Arg, 8)
	binary.LittleEndian.PutUint64(b, uint64(p))
	return b
}

// beamSearchArg lays out {cache indirection, capacity, context lengths}.
func beamSearchArg(indices driver.DevicePtr, capacity int, ctxLens driver.DevicePtr) driver.Arg {
	b := make(driver.Arg, 24)
	binary.LittleEndian.PutUint64(b[0:], uint64(indices))
	binary.LittleEndian.PutUint32(b[8:], uint32(capacity))
	binary.LittleEndian.PutUint64(b[16:], uint64(ctxLens))
	return b
}

// singleTokenLaunch is the Ampere-style single-token convention.
type singleTokenLaunch struct {
	nbKHeads         uint32
	output           driver.DevicePtr
	qInput           driver.DevicePtr
	kvCache          driver.Arg
	beamSearch       driver.Arg // nil for beam width 1
	batchSize        uint32
	kvScaleQuantOrig driver.DevicePtr
	semaphores       driver.DevicePtr
	scratch          driver.DevicePtr
	multiBlock       uint32
}

func (l *singleTokenLaunch) head() []driver.Arg {
	args := []driver.Arg{u32Arg(l.nbKHeads), ptrArg(l.output), ptrArg(l.qInput), l.kvCache}
	if l.beamSearch != nil {
		args = append(args, l.beamSearch)
	}
	return append(args, u32Arg(l.batchSize), ptrArg(l.kvScaleQuantOrig))
}

func (l *singleTokenLaunch) tail(args []driver.Arg) []driver.Arg {
	return append(args, ptrArg(l.semaphores), ptrArg(l.scratch), nil)
}

func (l *singleTokenLaunch) args() []driver.Arg {
	return l.tail(l.head())
}

func (l *singleTokenLaunch) grid() driver.Dim3 {
	return driver.Dim3{X: l.multiBlock, Y: l.nbKHeads, Z: l.batchSize}
}

func (l *singleTokenLaunch) block() driver.Dim3 {
	return driver.Dim3{X: threadsPerBlock, Y: 1, Z: 2}
}

// hopperLaunch adds the KV cache tensor map and a third warp group.
type hopperLaunch struct {
	singleTokenLaunch
	tensorMap driver.TensorMap
}

func (l *hopperLaunch) args() []driver.Arg {
	tm := make(driver.Arg, len(l.tensorMap))
	copy(tm, l.tensorMap[:])
	return l.tail(append(l.head(), tm))
}

func (l *hopperLaunch) block() driver.Dim3 {
	return driver.Dim3{X: threadsPerBlock, Y: 1, Z: 3}
}

// multiTokenLaunch is the speculative-decoding convention. Its argument
// list has no terminator.
type multiTokenLaunch struct {
	qSeqLen          uint32
	nbKHeads         uint32
	log2HeadGrp      uint32
	output           driver.DevicePtr
	qInput           driver.DevicePtr
	mask             driver.DevicePtr
	kvCache          driver.Arg
	batchSize        uint32
	kvCacheQuantOrig float32
	scratch          driver.DevicePtr
	multiBlock       uint32
	mTile            uint32
}

func (l *multiTokenLaunch) args() []driver.Arg {
	return []driver.Arg{
		u32Arg(l.qSeqLen),
		u32Arg(l.nbKHeads),
		u32Arg(l.log2HeadGrp),
		ptrArg(l.output),
		ptrArg(l.qInput),
		ptrArg(l.mask),
		l.kvCache,
		u32Arg(l.batchSize),
		f32Arg(l.kvCacheQuantOrig),
		ptrArg(l.scratch),
	}
}

// tokenBlocksPerGroup is the number of row tiles covering one KV head's
// query rows.
func (l *multiTokenLaunch) tokenBlocksPerGroup() uint32 {
	rows := l.qSeqLen << l.log2HeadGrp
	return (rows + l.mTile - 1) / l.mTile
}

func (l *multiTokenLaunch) grid() driver.Dim3 {
	return driver.Dim3{X: l.multiBlock, Y: l.nbKHeads * l.tokenBlocksPerGroup(), Z: l.batchSize}
}

func (l *multiTokenLaunch) block() driver.Dim3 {
	return driver.Dim3{X: threadsPerBlock, Y: 1, Z: 2}
}

// log2Exact returns log2(n) for powers of two.
func log2Exact(n int) (uint32, bool) {
	if n <= 0 || n&(n-1) != 0 {
		return 0, false
	}
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l, true
}
