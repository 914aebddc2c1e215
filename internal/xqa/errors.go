package xqa

import (
	"github.com/pkg/errors"

	"github.com/samcharles93/xqa/internal/tensormap"
)

var (
	// ErrConfigViolation marks a request that breaks the dispatcher's
	// contract, such as a query head count that is not a multiple of the KV
	// head count.
	ErrConfigViolation = errors.New("xqa: configuration violation")
	// ErrKernelNotFound is returned by dispatch when no loaded kernel
	// matches the request. Callers are expected to check support first.
	ErrKernelNotFound = errors.New("xqa: no kernel for configuration")
	// ErrTooManyDevices is returned for device ordinals at or above the
	// loader's device limit.
	ErrTooManyDevices = errors.New("xqa: device ordinal exceeds device limit")
	// ErrUnsupportedDataType is returned when a tensor map cannot describe
	// the KV cache element type.
	ErrUnsupportedDataType = tensormap.ErrUnsupportedDataType
)

func violation(format string, args ...any) error {
	return errors.Wrapf(ErrConfigViolation, format, args...)
}
