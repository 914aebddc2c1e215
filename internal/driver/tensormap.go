package driver

// TensorMap is the opaque 128-byte tensor descriptor consumed by kernels that
// fetch the KV cache through the tensor memory accelerator.
type TensorMap [128]byte

// TensorMapDataType follows CUtensorMapDataType.
type TensorMapDataType int32

const (
	TensorMapUInt8 TensorMapDataType = iota
	TensorMapUInt16
	TensorMapUInt32
	TensorMapInt32
	TensorMapUInt64
	TensorMapInt64
	TensorMapFloat16
	TensorMapFloat32
	TensorMapFloat64
	TensorMapBFloat16
	TensorMapFloat32FTZ
	TensorMapTFloat32
	TensorMapTFloat32FTZ
)

type TensorMapInterleave int32

const TensorMapInterleaveNone TensorMapInterleave = 0

type TensorMapSwizzle int32

const (
	TensorMapSwizzleNone TensorMapSwizzle = iota
	TensorMapSwizzle32B
	TensorMapSwizzle64B
	TensorMapSwizzle128B
)

type TensorMapL2Promotion int32

const TensorMapL2PromotionNone TensorMapL2Promotion = 0

type TensorMapFloatOOBFill int32

const TensorMapFloatOOBFillNone TensorMapFloatOOBFill = 0

// TensorMapSpec carries the arguments of a tiled tensor map encode.
// GlobalStrides has Rank-1 entries (the innermost stride is implied).
type TensorMapSpec struct {
	DataType       TensorMapDataType
	GlobalAddress  DevicePtr
	GlobalDim      []uint64
	GlobalStrides  []uint64
	BoxDim         []uint32
	ElementStrides []uint32
	Interleave     TensorMapInterleave
	Swizzle        TensorMapSwizzle
	L2Promotion    TensorMapL2Promotion
	OOBFill        TensorMapFloatOOBFill
}

// Rank returns the tensor rank.
func (s TensorMapSpec) Rank() int {
	return len(s.GlobalDim)
}
