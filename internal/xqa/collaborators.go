package xqa

import (
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/qkv"
)

// Preprocessor runs the QKV preprocessing kernels that precede attention.
type Preprocessor interface {
	BuildDecoderInfo(p qkv.DecoderInfoParams, s driver.Stream) error
	PreprocessQKV(p qkv.PreprocessParams, s driver.Stream) error
}

// OutputConverter narrows attention output to fp8.
type OutputConverter interface {
	ConvertToFP8(dst, src driver.DevicePtr, n int, scale driver.DevicePtr, srcType dtype.DataType, s driver.Stream) error
}
