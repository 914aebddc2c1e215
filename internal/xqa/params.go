package xqa

import (
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/qkv"
)

// Params describes one generation-step attention call. Shape fields carry
// yaml/json tags so requests can be read from files; device buffers are set
// by the caller and borrowed for the duration of the call.
type Params struct {
	DataType        dtype.DataType `yaml:"data_type" json:"data_type"`
	KVCacheDataType dtype.DataType `yaml:"kv_cache_data_type" json:"kv_cache_data_type"`

	HeadSize   int `yaml:"head_size" json:"head_size"`
	NumQHeads  int `yaml:"num_q_heads" json:"num_q_heads"`
	NumKVHeads int `yaml:"num_kv_heads" json:"num_kv_heads"`
	BeamWidth  int `yaml:"beam_width" json:"beam_width"`
	BatchSize  int `yaml:"batch_size" json:"batch_size"`

	Paged          bool `yaml:"paged" json:"paged"`
	TokensPerBlock int  `yaml:"tokens_per_block" json:"tokens_per_block"`

	MultiQueryTokens bool `yaml:"multi_query_tokens" json:"multi_query_tokens"`
	// GenerationInputLength is the query length per sequence.
	GenerationInputLength int `yaml:"generation_input_length" json:"generation_input_length"`
	// TotalNumInputTokens counts query tokens across the batch.
	TotalNumInputTokens int `yaml:"total_num_input_tokens" json:"total_num_input_tokens"`
	// Timestep is the longest history length in the batch.
	Timestep                  int  `yaml:"timestep" json:"timestep"`
	MaxAttentionWindow        int  `yaml:"max_attention_window" json:"max_attention_window"`
	CyclicAttentionWindowSize int  `yaml:"cyclic_attention_window_size" json:"cyclic_attention_window_size"`
	SinkTokenLength           int  `yaml:"sink_token_length" json:"sink_token_length"`
	MultiBlockMode            bool `yaml:"multi_block_mode" json:"multi_block_mode"`

	Rotary               qkv.Rotary `yaml:"rotary" json:"rotary"`
	PositionShiftEnabled bool       `yaml:"position_shift_enabled" json:"position_shift_enabled"`

	Output                      driver.DevicePtr `yaml:"-" json:"-"`
	QKV                         driver.DevicePtr `yaml:"-" json:"-"`
	QKVBias                     driver.DevicePtr `yaml:"-" json:"-"`
	SequenceLengths             driver.DevicePtr `yaml:"-" json:"-"`
	ContextLengths              driver.DevicePtr `yaml:"-" json:"-"`
	CacheIndirection            driver.DevicePtr `yaml:"-" json:"-"`
	KVScaleOrigQuant            driver.DevicePtr `yaml:"-" json:"-"`
	KVScaleQuantOrig            driver.DevicePtr `yaml:"-" json:"-"`
	SpecDecodingPackedMask      driver.DevicePtr `yaml:"-" json:"-"`
	SpecDecodingPositionOffsets driver.DevicePtr `yaml:"-" json:"-"`
	// FP8OutScale requests fp8 output when non-zero.
	FP8OutScale driver.DevicePtr `yaml:"-" json:"-"`
	Semaphores  driver.DevicePtr `yaml:"-" json:"-"`
	Workspace   driver.DevicePtr `yaml:"-" json:"-"`
}

// cacheKind derives the cache quantization from the KV element type.
func (p *Params) cacheKind() qkv.CacheKind {
	switch p.KVCacheDataType {
	case dtype.INT8:
		return qkv.CacheInt8
	case dtype.E4M3:
		return qkv.CacheFP8
	default:
		return qkv.CacheBase
	}
}

func (p *Params) batchBeam() int {
	return p.BatchSize * p.BeamWidth
}

// FillDefaults sets the shape fields a request file may leave out: a beam
// width and query length of one, a token count covering the whole batch and
// an attention window of at least the timestep.
func (p *Params) FillDefaults() {
	if p.BeamWidth <= 0 {
		p.BeamWidth = 1
	}
	if p.GenerationInputLength <= 0 {
		p.GenerationInputLength = 1
	}
	if p.TotalNumInputTokens <= 0 {
		p.TotalNumInputTokens = p.batchBeam() * p.GenerationInputLength
	}
	if p.MaxAttentionWindow <= 0 {
		p.MaxAttentionWindow = p.Timestep
	}
}
