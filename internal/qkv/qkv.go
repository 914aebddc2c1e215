// Package qkv holds the parameter blocks exchanged with the QKV preprocessing
// step that runs ahead of every fused attention launch: building sequence
// offsets and rotary frequencies, then applying bias and rotary embedding to
// the packed QKV tensor and writing K/V into the cache.
package qkv

import (
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/kvcache"
)

// CacheKind is the quantization of the KV cache.
type CacheKind int

const (
	CacheBase CacheKind = iota
	CacheInt8
	CacheFP8
)

func (k CacheKind) String() string {
	switch k {
	case CacheInt8:
		return "int8"
	case CacheFP8:
		return "fp8"
	default:
		return "base"
	}
}

// RotaryScaling selects how rotary frequencies are scaled.
type RotaryScaling int32

const (
	RotaryScalingNone RotaryScaling = iota
	RotaryScalingLinear
	RotaryScalingDynamic
)

// PositionEmbedding is the positional encoding applied to Q and K.
type PositionEmbedding int32

const (
	PositionEmbeddingLearnedAbsolute PositionEmbedding = iota
	PositionEmbeddingRopeGPTJ
	PositionEmbeddingRopeGPTNeoX
	PositionEmbeddingAlibi
	PositionEmbeddingAlibiWithScale
	PositionEmbeddingRelative
)

// Rotary groups the rotary embedding settings.
type Rotary struct {
	Dim          int               `yaml:"dim" json:"dim"`
	Base         float32           `yaml:"base" json:"base"`
	Scale        float32           `yaml:"scale" json:"scale"`
	ScaleType    RotaryScaling     `yaml:"scale_type" json:"scale_type"`
	MaxPositions int               `yaml:"max_positions" json:"max_positions"`
	Embedding    PositionEmbedding `yaml:"embedding" json:"embedding"`
}

// DecoderInfoParams drives the decoder-info build: cumulative query offsets
// and the rotary inverse frequency table.
type DecoderInfoParams struct {
	SeqQOffsets   driver.DevicePtr // int32 x (BatchSize+1)
	SeqKVLengths  driver.DevicePtr
	BatchSize     int
	MaxQSeqLength int
	RemovePadding bool
	Rotary        Rotary
	RotaryInvFreq driver.DevicePtr // float32 x BatchSize x Rotary.Dim/2
}

// PreprocessParams drives QKV preprocessing for one generation step.
type PreprocessParams struct {
	QKV                         driver.DevicePtr
	QOutput                     driver.DevicePtr
	Cache                       kvcache.Buffer
	QKVBias                     driver.DevicePtr
	SeqLens                     driver.DevicePtr
	RotaryInvFreq               driver.DevicePtr
	KVScaleOrigQuant            driver.DevicePtr
	SpecDecodingPositionOffsets driver.DevicePtr

	BatchSize             int
	MaxInputSeqLen        int
	MaxKVSeqLen           int
	CyclicAttentionWindow int
	SinkTokenLength       int
	TokenNum              int
	HeadNum               int
	KVHeadNum             int
	QHeadsPerKV           int
	SizePerHead           int

	Rotary              Rotary
	PositionShift       bool
	CacheKind           CacheKind
	DataType            dtype.DataType
	MultiProcessorCount int

	// SeparateQOutput writes Q to QOutput instead of back into QKV.
	SeparateQOutput    bool
	QuantizedFP8Output bool
}
