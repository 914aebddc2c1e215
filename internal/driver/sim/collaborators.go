package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"

	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/qkv"
)

// Preprocessor performs the host-visible parts of QKV preprocessing on the
// simulated device: query offsets, rotary inverse frequencies and copying Q
// out of the packed QKV tensor. Rotary rotation and cache writes are skipped.
type Preprocessor struct {
	dev *Driver

	mu          sync.Mutex
	decoderInfo []qkv.DecoderInfoParams
	preprocess  []qkv.PreprocessParams
}

func NewPreprocessor(dev *Driver) *Preprocessor {
	return &Preprocessor{dev: dev}
}

func (p *Preprocessor) BuildDecoderInfo(params qkv.DecoderInfoParams, _ driver.Stream) error {
	p.mu.Lock()
	p.decoderInfo = append(p.decoderInfo, params)
	p.mu.Unlock()

	if params.SeqQOffsets != 0 {
		buf := make([]byte, 4*(params.BatchSize+1))
		for i := 0; i <= params.BatchSize; i++ {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(i*params.MaxQSeqLength))
		}
		if err := p.dev.Write(params.SeqQOffsets, buf); err != nil {
			return fmt.Errorf("write query offsets: %w", err)
		}
	}

	half := params.Rotary.Dim / 2
	if params.RotaryInvFreq == 0 || half == 0 {
		return nil
	}
	base := float64(params.Rotary.Base)
	if base == 0 {
		base = 10000
	}
	buf := make([]byte, 4*half*params.BatchSize)
	for b := 0; b < params.BatchSize; b++ {
		for i := 0; i < half; i++ {
			f := 1 / math.Pow(base, float64(2*i)/float64(params.Rotary.Dim))
			binary.LittleEndian.PutUint32(buf[4*(b*half+i):], math.Float32bits(float32(f)))
		}
	}
	if err := p.dev.Write(params.RotaryInvFreq, buf); err != nil {
		return fmt.Errorf("write rotary inverse frequencies: %w", err)
	}
	return nil
}

func (p *Preprocessor) PreprocessQKV(params qkv.PreprocessParams, _ driver.Stream) error {
	p.mu.Lock()
	p.preprocess = append(p.preprocess, params)
	p.mu.Unlock()

	if params.QKV == 0 || params.QOutput == 0 {
		return nil
	}
	elem := params.DataType.Size()
	qBytes := params.HeadNum * params.SizePerHead * elem
	rowBytes := (params.HeadNum + 2*params.KVHeadNum) * params.SizePerHead * elem
	for tok := 0; tok < params.TokenNum; tok++ {
		src, err := p.dev.Memory(params.QKV+driver.DevicePtr(tok*rowBytes), qBytes)
		if err != nil {
			return fmt.Errorf("read qkv token %d: %w", tok, err)
		}
		if err := p.dev.Write(params.QOutput+driver.DevicePtr(tok*qBytes), src); err != nil {
			return fmt.Errorf("write q token %d: %w", tok, err)
		}
	}
	return nil
}

// DecoderInfoCalls returns the recorded decoder-info requests.
func (p *Preprocessor) DecoderInfoCalls() []qkv.DecoderInfoParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]qkv.DecoderInfoParams(nil), p.decoderInfo...)
}

// PreprocessCalls returns the recorded preprocessing requests.
func (p *Preprocessor) PreprocessCalls() []qkv.PreprocessParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]qkv.PreprocessParams(nil), p.preprocess...)
}

// Conversion is a recorded ConvertToFP8 call.
type Conversion struct {
	Dst, Src driver.DevicePtr
	Count    int
	Scale    driver.DevicePtr
	SrcType  dtype.DataType
}

// Converter narrows fp16/bf16 device buffers to fp8 e4m3.
type Converter struct {
	dev *Driver

	mu    sync.Mutex
	calls []Conversion
}

func NewConverter(dev *Driver) *Converter {
	return &Converter{dev: dev}
}

// ConvertToFP8 writes e4m3(src[i] * scale) to dst. A zero scale pointer means
// a scale of one.
func (c *Converter) ConvertToFP8(dst, src driver.DevicePtr, n int, scale driver.DevicePtr, srcType dtype.DataType, _ driver.Stream) error {
	c.mu.Lock()
	c.calls = append(c.calls, Conversion{Dst: dst, Src: src, Count: n, Scale: scale, SrcType: srcType})
	c.mu.Unlock()

	if srcType != dtype.FP16 && srcType != dtype.BF16 {
		return fmt.Errorf("convert to fp8: unsupported source type %s", srcType)
	}
	s := float32(1)
	if scale != 0 {
		raw, err := c.dev.Memory(scale, 4)
		if err != nil {
			return fmt.Errorf("read output scale: %w", err)
		}
		s = math.Float32frombits(binary.LittleEndian.Uint32(raw))
	}
	in, err := c.dev.Memory(src, 2*n)
	if err != nil {
		return fmt.Errorf("read conversion source: %w", err)
	}
	out, err := c.dev.Memory(dst, n)
	if err != nil {
		return fmt.Errorf("map conversion destination: %w", err)
	}
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint16(in[2*i:])
		var v float32
		if srcType == dtype.FP16 {
			v = float16.Frombits(bits).Float32()
		} else {
			v = math.Float32frombits(uint32(bits) << 16)
		}
		out[i] = encodeE4M3(v * s)
	}
	return nil
}

// Calls returns the recorded conversions.
func (c *Converter) Calls() []Conversion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Conversion(nil), c.calls...)
}
