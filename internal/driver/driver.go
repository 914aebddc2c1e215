// Package driver declares the slice of the accelerator driver API the kernel
// dispatcher consumes: loading binary modules, resolving entry points and
// globals, configuring function attributes, encoding tensor maps and
// launching kernels on a stream.
//
// Implementations live in subpackages: cuda binds the CUDA driver API through
// cgo (build tag "cuda"), sim is a host-side simulation used by tests and the
// CLI.
package driver

// Module is a loaded binary module handle.
type Module uintptr

// Function is a kernel entry point inside a Module.
type Function uintptr

// DevicePtr is a device memory address.
type DevicePtr uintptr

// Stream is an execution stream. The zero value is the legacy default stream.
type Stream uintptr

// Dim3 is a grid or block shape.
type Dim3 struct {
	X, Y, Z uint32
}

// Count returns X*Y*Z.
func (d Dim3) Count() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// Arg is the raw bytes of one kernel parameter, laid out exactly as the
// kernel's parameter type. A nil Arg terminates an argument list.
type Arg []byte

// FuncAttribute selects a per-function attribute.
type FuncAttribute int32

const (
	FuncAttributeMaxDynamicSharedSizeBytes FuncAttribute = 8
)

// Driver is the consumed accelerator driver surface. Every method maps to a
// single driver call and reports failures as *Error.
type Driver interface {
	// CurrentDevice returns the ordinal of the device bound to this driver.
	CurrentDevice() (int, error)
	// ComputeCapability returns the compute capability of the device.
	ComputeCapability(device int) (major, minor int, err error)
	// MultiProcessorCount returns the number of streaming multiprocessors.
	MultiProcessorCount(device int) (int, error)

	ModuleLoadData(image []byte) (Module, error)
	ModuleUnload(m Module) error
	ModuleGetFunction(m Module, name string) (Function, error)
	// ModuleGetGlobal returns the address and size of a module global.
	// A missing symbol is reported with code ErrorNotFound.
	ModuleGetGlobal(m Module, name string) (DevicePtr, uint64, error)

	MemcpyDtoH(dst []byte, src DevicePtr) error
	MemsetD32Async(dst DevicePtr, value uint32, count uint64, s Stream) error

	FuncSetAttribute(f Function, attr FuncAttribute, value int) error
	LaunchKernel(f Function, grid, block Dim3, sharedMemBytes uint32, s Stream, args []Arg) error

	TensorMapEncodeTiled(spec TensorMapSpec) (TensorMap, error)
}
