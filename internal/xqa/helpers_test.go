package xqa

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/driver/sim"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/kvcache"
)

type fixture struct {
	drv    *sim.Driver
	images catalog.ImageSource
	pre    *sim.Preprocessor
	conv   *sim.Converter
	loader *Loader
	disp   *Dispatcher
}

func newFixture(t *testing.T, sm catalog.SM, smCount int, opts Options) *fixture {
	t.Helper()
	drv, images := sim.ForCatalog(sim.Options{
		Major:               int(sm) / 10,
		Minor:               int(sm) % 10,
		MultiProcessorCount: smCount,
	}, catalog.Default())
	return newFixtureWith(t, drv, images, catalog.Default(), opts)
}

func newFixtureWith(t *testing.T, drv *sim.Driver, images catalog.ImageSource, descs []catalog.Descriptor, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		drv:    drv,
		images: images,
		pre:    sim.NewPreprocessor(drv),
		conv:   sim.NewConverter(drv),
		loader: NewLoader(descs, images, opts),
	}
	disp, err := NewDispatcher(drv, f.loader, f.pre, f.conv)
	require.NoError(t, err)
	f.disp = disp
	return f
}

// allocate backs every device buffer of p with simulated memory.
func (f *fixture) allocate(p *Params) {
	p.Workspace = f.drv.Alloc(f.disp.WorkspaceSize(p))
	p.Semaphores = f.drv.Alloc(4 * p.BatchSize * p.NumKVHeads)
	p.SequenceLengths = f.drv.Alloc(4 * p.batchBeam())
	p.Output = f.drv.Alloc(p.DataType.Size() * p.HeadSize * p.NumQHeads * p.TotalNumInputTokens)
	p.KVScaleQuantOrig = f.drv.Alloc(4)
}

func (f *fixture) linearCache() *kvcache.LinearBuffer {
	return &kvcache.LinearBuffer{Data: f.drv.Alloc(1 << 16), MaxSeqLen: 1024}
}

func (f *fixture) pagedCache(p *Params) *kvcache.BlockArray {
	return &kvcache.BlockArray{
		PrimaryPool:     f.drv.Alloc(1 << 16),
		BlockOffsets:    f.drv.Alloc(1024),
		TokensPerBlock:  p.TokensPerBlock,
		MaxBlocksPerSeq: 16,
	}
}

// decodeParams is a single-token fp16 request with an unpaged cache.
func decodeParams(batch, kvHeads, ratio int) *Params {
	return &Params{
		DataType:              dtype.FP16,
		KVCacheDataType:       dtype.FP16,
		HeadSize:              128,
		NumQHeads:             kvHeads * ratio,
		NumKVHeads:            kvHeads,
		BeamWidth:             1,
		BatchSize:             batch,
		GenerationInputLength: 1,
		TotalNumInputTokens:   batch,
		Timestep:              100,
		MaxAttentionWindow:    1024,
	}
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func argU32(a driver.Arg) uint32 {
	return binary.LittleEndian.Uint32(a)
}

func argPtr(a driver.Arg) driver.DevicePtr {
	return driver.DevicePtr(binary.LittleEndian.Uint64(a))
}
