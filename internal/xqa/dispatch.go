package xqa

import (
	"github.com/pkg/errors"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/kvcache"
	"github.com/samcharles93/xqa/internal/qkv"
	"github.com/samcharles93/xqa/internal/tensormap"
)

// kvCacheQuantOrig is the dequantization scale passed to multi-token kernels.
// TODO: read it from Params.KVScaleQuantOrig once multi-token kernels accept
// a device pointer for int8/fp8 caches.
const kvCacheQuantOrig = 1.0

// Dispatcher decides whether the precompiled kernels should serve a request
// and launches them. One Dispatcher is bound to one device through its
// driver.
type Dispatcher struct {
	drv    driver.Driver
	loader *Loader
	pre    Preprocessor
	conv   OutputConverter

	device  int
	sm      catalog.SM
	smCount int
}

// NewDispatcher queries the device bound to drv once and returns a
// dispatcher that loads kernels through loader.
func NewDispatcher(drv driver.Driver, loader *Loader, pre Preprocessor, conv OutputConverter) (*Dispatcher, error) {
	device, err := drv.CurrentDevice()
	if err != nil {
		return nil, errors.Wrap(err, "while querying current device")
	}
	major, minor, err := drv.ComputeCapability(device)
	if err != nil {
		return nil, errors.Wrapf(err, "while querying compute capability of device %d", device)
	}
	smCount, err := drv.MultiProcessorCount(device)
	if err != nil {
		return nil, errors.Wrapf(err, "while querying multiprocessor count of device %d", device)
	}
	return &Dispatcher{
		drv:     drv,
		loader:  loader,
		pre:     pre,
		conv:    conv,
		device:  device,
		sm:      catalog.FromCapability(major, minor),
		smCount: smCount,
	}, nil
}

func (d *Dispatcher) Device() int              { return d.device }
func (d *Dispatcher) SM() catalog.SM           { return d.sm }
func (d *Dispatcher) MultiProcessorCount() int { return d.smCount }

// WorkspaceSize returns the workspace bytes a call with p needs.
func (d *Dispatcher) WorkspaceSize(p *Params) int {
	return WorkspaceSize(p, d.loader.opts.MaxNbCtaPerKVHead)
}

// IsConfigurationSupported reports whether a precompiled kernel exists for p
// on this device. The kernel list is loaded on first use.
func (d *Dispatcher) IsConfigurationSupported(p *Params) (bool, error) {
	if _, err := headRatio(p); err != nil {
		return false, err
	}
	if !dispatchable(p.DataType) {
		return false, nil
	}
	kl, err := d.loader.KernelList(d.drv, p.DataType)
	if err != nil {
		return false, err
	}
	return kl.Supports(p)
}

// MayOutperformGeneric applies the occupancy heuristic for smCount
// multiprocessors.
func (d *Dispatcher) MayOutperformGeneric(p *Params, smCount int) bool {
	return mayOutperformGeneric(p, smCount, d.loader.opts.ForceXQA)
}

// ShouldUse combines support and the heuristic on this device.
func (d *Dispatcher) ShouldUse(p *Params) (bool, error) {
	ok, err := d.IsConfigurationSupported(p)
	if err != nil || !ok {
		return false, err
	}
	return d.MayOutperformGeneric(p, d.smCount), nil
}

// RunWithLinearBuffer dispatches attention over a contiguous KV cache.
func (d *Dispatcher) RunWithLinearBuffer(p *Params, cache *kvcache.LinearBuffer, s driver.Stream) error {
	return d.run(p, cache, s)
}

// RunWithBlockArray dispatches attention over a paged KV cache.
func (d *Dispatcher) RunWithBlockArray(p *Params, cache *kvcache.BlockArray, s driver.Stream) error {
	return d.run(p, cache, s)
}

func dispatchable(dt dtype.DataType) bool {
	return dt == dtype.FP16 || dt == dtype.BF16
}

func (d *Dispatcher) run(p *Params, cache kvcache.Buffer, s driver.Stream) error {
	ratio, err := headRatio(p)
	if err != nil {
		return err
	}
	if !dispatchable(p.DataType) {
		return violation("activation type %s is not dispatchable", p.DataType)
	}
	if cache.Paged() != p.Paged {
		return violation("cache paged=%t but request paged=%t", cache.Paged(), p.Paged)
	}
	if ba, ok := cache.(*kvcache.BlockArray); ok && ba.TokensPerBlock != p.TokensPerBlock {
		return violation("cache has %d tokens per block but request has %d", ba.TokensPerBlock, p.TokensPerBlock)
	}
	kl, err := d.loader.KernelList(d.drv, p.DataType)
	if err != nil {
		return err
	}
	key, err := requestKey(p)
	if err != nil {
		return err
	}
	kern, ok := kl.Lookup(key)
	if !ok {
		return errors.Wrapf(ErrKernelNotFound, "%s on %s", key, d.sm)
	}

	// Everything that can reject the request runs before the preprocessor
	// writes into the cache.
	var (
		log2HeadGrp uint32
		isHopper    bool
		tm          driver.TensorMap
	)
	if p.MultiQueryTokens {
		if log2HeadGrp, ok = log2Exact(ratio); !ok {
			return violation("head group size %d is not a power of two", ratio)
		}
	} else {
		isHopper = kern.Type == catalog.HopperWarpSpecialized
		wantHopper := d.sm == catalog.SM90 && p.KVCacheDataType == dtype.E4M3 && p.BeamWidth == 1
		if isHopper != wantHopper {
			return violation("kernel type %s does not match sm=%s kv=%s beam=%d", kern.Type, d.sm, p.KVCacheDataType, p.BeamWidth)
		}
		if isHopper {
			if tm, err = d.tensorMap(p, cache); err != nil {
				return err
			}
		}
	}

	opts := d.loader.opts
	batchBeam := p.batchBeam()

	ws := carveWorkspace(p)
	qInput := ws.ioScratch
	output := p.Output
	needConvert := p.FP8OutScale != 0
	if needConvert {
		output = ws.ioScratch
	}

	err = d.pre.BuildDecoderInfo(qkv.DecoderInfoParams{
		SeqQOffsets:   ws.cuSeqLens,
		SeqKVLengths:  p.SequenceLengths,
		BatchSize:     batchBeam,
		MaxQSeqLength: p.GenerationInputLength,
		Rotary:        p.Rotary,
		RotaryInvFreq: ws.rotaryInvFreq,
	}, s)
	if err != nil {
		return errors.Wrap(err, "while building decoder info")
	}
	err = d.pre.PreprocessQKV(qkv.PreprocessParams{
		QKV:                         p.QKV,
		QOutput:                     qInput,
		Cache:                       cache,
		QKVBias:                     p.QKVBias,
		SeqLens:                     p.SequenceLengths,
		RotaryInvFreq:               ws.rotaryInvFreq,
		KVScaleOrigQuant:            p.KVScaleOrigQuant,
		SpecDecodingPositionOffsets: p.SpecDecodingPositionOffsets,
		BatchSize:                   batchBeam,
		MaxInputSeqLen:              p.GenerationInputLength,
		MaxKVSeqLen:                 p.Timestep,
		CyclicAttentionWindow:       p.CyclicAttentionWindowSize,
		SinkTokenLength:             p.SinkTokenLength,
		TokenNum:                    batchBeam * p.GenerationInputLength,
		HeadNum:                     p.NumQHeads,
		KVHeadNum:                   p.NumKVHeads,
		QHeadsPerKV:                 ratio,
		SizePerHead:                 p.HeadSize,
		Rotary:                      p.Rotary,
		PositionShift:               p.PositionShiftEnabled,
		CacheKind:                   p.cacheKind(),
		DataType:                    p.DataType,
		MultiProcessorCount:         d.smCount,
		SeparateQOutput:             true,
	}, s)
	if err != nil {
		return errors.Wrap(err, "while preprocessing qkv")
	}

	multiBlock := 1
	if p.MultiBlockMode {
		multiBlock = multiBlockCount(p, p.BatchSize, d.smCount, opts)
	}
	kvArg := cache.KernelParams(p.SequenceLengths)

	var l launch
	if p.MultiQueryTokens {
		l = &multiTokenLaunch{
			qSeqLen:          uint32(p.GenerationInputLength),
			nbKHeads:         uint32(p.NumKVHeads),
			log2HeadGrp:      log2HeadGrp,
			output:           output,
			qInput:           qInput,
			mask:             p.SpecDecodingPackedMask,
			kvCache:          kvArg,
			batchSize:        uint32(p.BatchSize),
			kvCacheQuantOrig: kvCacheQuantOrig,
			scratch:          ws.scratch,
			multiBlock:       uint32(multiBlock),
			mTile:            uint32(key.MTileSize),
		}
		if p.MultiBlockMode {
			if err := d.drv.MemsetD32Async(ws.scratch, 0, uint64(p.BatchSize*p.NumKVHeads), s); err != nil {
				return errors.Wrap(err, "while clearing multi-block counters")
			}
		}
	} else {
		st := singleTokenLaunch{
			nbKHeads:         uint32(p.NumKVHeads),
			output:           output,
			qInput:           qInput,
			kvCache:          kvArg,
			batchSize:        uint32(p.BatchSize),
			kvScaleQuantOrig: p.KVScaleQuantOrig,
			semaphores:       p.Semaphores,
			scratch:          ws.scratch,
			multiBlock:       uint32(multiBlock),
		}
		if p.BeamWidth > 1 {
			st.beamSearch = beamSearchArg(p.CacheIndirection, p.MaxAttentionWindow, p.ContextLengths)
		}
		if isHopper {
			l = &hopperLaunch{singleTokenLaunch: st, tensorMap: tm}
		} else {
			l = &st
		}
	}

	grid, block := l.grid(), l.block()
	opts.Logger.Debug("launching kernel",
		"key", key.String(), "func", kern.Descriptor.FuncName, "cubin", kern.Descriptor.CubinName(),
		"grid", grid, "block", block, "smem", kern.SharedMem)
	if err := d.drv.LaunchKernel(kern.Function, grid, block, kern.SharedMem, s, l.args()); err != nil {
		return errors.Wrapf(err, "while launching %s", kern.Descriptor.FuncName)
	}

	if needConvert {
		n := p.HeadSize * p.NumQHeads * p.TotalNumInputTokens
		if err := d.conv.ConvertToFP8(p.Output, ws.ioScratch, n, p.FP8OutScale, p.DataType, s); err != nil {
			return errors.Wrap(err, "while converting output to fp8")
		}
	}
	return nil
}

func (d *Dispatcher) tensorMap(p *Params, cache kvcache.Buffer) (driver.TensorMap, error) {
	g := tensormap.Geometry{
		KVDataType: p.KVCacheDataType,
		HeadDim:    p.HeadSize,
		NumKVHeads: p.NumKVHeads,
		BeamWidth:  p.BeamWidth,
		BatchSize:  p.BatchSize,
	}
	switch c := cache.(type) {
	case *kvcache.BlockArray:
		return tensormap.Paged(d.drv, g, c.PrimaryPool, c.TokensPerBlock)
	case *kvcache.LinearBuffer:
		return tensormap.Contiguous(d.drv, g, c.Data, c.MaxSeqLen)
	default:
		return driver.TensorMap{}, errors.Errorf("no tensor map for cache type %T", cache)
	}
}
