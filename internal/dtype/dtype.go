// Package dtype names the numeric element types the attention kernels are
// built for.
package dtype

import (
	"fmt"
	"strings"
)

// DataType is the element type of activations or of the KV cache.
//
// The numeric values follow the kernel build's data type enumeration, so they
// must not be reordered.
type DataType int32

const (
	Bool DataType = iota
	FP16
	FP32
	INT4
	INT8
	INT32
	BF16
	E4M3
	E5M2
)

var names = map[DataType]string{
	Bool:  "bool",
	FP16:  "fp16",
	FP32:  "fp32",
	INT4:  "int4",
	INT8:  "int8",
	INT32: "int32",
	BF16:  "bf16",
	E4M3:  "e4m3",
	E5M2:  "e5m2",
}

func (d DataType) String() string {
	if s, ok := names[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", int32(d))
}

// Size returns the element size in bytes. INT4 and Bool report 1.
func (d DataType) Size() int {
	switch d {
	case FP16, BF16:
		return 2
	case FP32, INT32:
		return 4
	default:
		return 1
	}
}

// Parse accepts the short names used by String plus a few common aliases.
func Parse(s string) (DataType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "half", "float16", "f16":
		return FP16, nil
	case "bfloat16", "bf", "b16":
		return BF16, nil
	case "float32", "float", "f32":
		return FP32, nil
	case "fp8", "fp8_e4m3", "float8_e4m3":
		return E4M3, nil
	}
	for d, name := range names {
		if name == key {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DataType) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
