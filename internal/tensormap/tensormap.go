// Package tensormap builds the tensor descriptors that Hopper-generation
// kernels use to stream the KV cache through the tensor memory accelerator.
package tensormap

import (
	"github.com/pkg/errors"

	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
)

// ErrUnsupportedDataType is returned for cache element types without a
// tensor map encoding.
var ErrUnsupportedDataType = errors.New("unsupported cache data type for tensor map")

const (
	// maxPartBytes caps the head bytes fetched per box so the swizzle span fits.
	maxPartBytes = 128
	// maxBoxTokens is the largest token extent of one box.
	maxBoxTokens = 64
)

// Geometry is the cache shape a tensor map describes.
type Geometry struct {
	KVDataType dtype.DataType
	HeadDim    int
	NumKVHeads int
	BeamWidth  int
	BatchSize  int
}

func elemBytes(dt dtype.DataType) (int, error) {
	switch dt {
	case dtype.FP16, dtype.BF16:
		return 2, nil
	case dtype.INT8, dtype.E4M3:
		return 1, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDataType, "%s", dt)
	}
}

// layout is the head-dimension part of every cache tensor map: bytes per
// head, the inner box extent and the swizzle mode covering it.
type layout struct {
	headElems uint64
	headBytes uint64
	partElems uint32
	swizzle   driver.TensorMapSwizzle
}

func headLayout(g Geometry) (layout, error) {
	elem, err := elemBytes(g.KVDataType)
	if err != nil {
		return layout{}, err
	}
	headBytes := g.HeadDim * elem
	partBytes := min(maxPartBytes, headBytes)
	var swizzle driver.TensorMapSwizzle
	switch partBytes {
	case 128:
		swizzle = driver.TensorMapSwizzle128B
	case 64:
		swizzle = driver.TensorMapSwizzle64B
	default:
		return layout{}, errors.Errorf("unsupported head size %d bytes for tensor map swizzle", headBytes)
	}
	return layout{
		headElems: uint64(g.HeadDim),
		headBytes: uint64(headBytes),
		partElems: uint32(partBytes / elem),
		swizzle:   swizzle,
	}, nil
}

// Paged encodes a map over a page pool laid out as
// [pages][kvHeads][tokensPerPage][headDim]. The page dimension is left
// effectively unbounded; kernels index it through the page list.
func Paged(drv driver.Driver, g Geometry, pool driver.DevicePtr, tokensPerPage int) (driver.TensorMap, error) {
	l, err := headLayout(g)
	if err != nil {
		return driver.TensorMap{}, err
	}
	tpp := uint64(tokensPerPage)
	spec := driver.TensorMapSpec{
		DataType:       driver.TensorMapUInt8,
		GlobalAddress:  pool,
		GlobalDim:      []uint64{l.headElems, tpp, uint64(g.NumKVHeads), 1 << 31},
		GlobalStrides:  []uint64{l.headBytes, l.headBytes * tpp, l.headBytes * tpp * uint64(g.NumKVHeads)},
		BoxDim:         []uint32{l.partElems, uint32(min(tokensPerPage, maxBoxTokens)), 1, 1},
		ElementStrides: []uint32{1, 1, 1, 1},
		Interleave:     driver.TensorMapInterleaveNone,
		Swizzle:        l.swizzle,
		L2Promotion:    driver.TensorMapL2PromotionNone,
		OOBFill:        driver.TensorMapFloatOOBFillNone,
	}
	tm, err := drv.TensorMapEncodeTiled(spec)
	if err != nil {
		return driver.TensorMap{}, errors.Wrap(err, "encode paged KV cache tensor map")
	}
	return tm, nil
}

// Contiguous encodes a map over a linear cache laid out as
// [2*beam*batch][kvHeads][maxCacheLen][headDim].
func Contiguous(drv driver.Driver, g Geometry, data driver.DevicePtr, maxCacheLen int) (driver.TensorMap, error) {
	l, err := headLayout(g)
	if err != nil {
		return driver.TensorMap{}, err
	}
	cacheLen := uint64(maxCacheLen)
	spec := driver.TensorMapSpec{
		DataType:       driver.TensorMapUInt8,
		GlobalAddress:  data,
		GlobalDim:      []uint64{l.headElems, cacheLen, uint64(g.NumKVHeads), uint64(2 * g.BeamWidth * g.BatchSize)},
		GlobalStrides:  []uint64{l.headBytes, l.headBytes * cacheLen, l.headBytes * cacheLen * uint64(g.NumKVHeads)},
		BoxDim:         []uint32{l.partElems, maxBoxTokens, 1, 1},
		ElementStrides: []uint32{1, 1, 1, 1},
		Interleave:     driver.TensorMapInterleaveNone,
		Swizzle:        l.swizzle,
		L2Promotion:    driver.TensorMapL2PromotionNone,
		OOBFill:        driver.TensorMapFloatOOBFillNone,
	}
	tm, err := drv.TensorMapEncodeTiled(spec)
	if err != nil {
		return driver.TensorMap{}, errors.Wrap(err, "encode contiguous KV cache tensor map")
	}
	return tm, nil
}
