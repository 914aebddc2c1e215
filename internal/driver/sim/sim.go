// Package sim is a host-side simulation of the accelerator driver. Device
// memory is a Go arena, modules are described by ModuleSpec values keyed by
// their image bytes, and every launch, memset and attribute change is recorded
// so callers can inspect exactly what would have reached the hardware.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/samcharles93/xqa/internal/driver"
)

// DefaultSharedMemLimit is the dynamic shared memory a function may use
// without raising FuncAttributeMaxDynamicSharedSizeBytes.
const DefaultSharedMemLimit = 48 * 1024

const arenaBase = 0x7f0000000000

// ModuleSpec describes what a loaded image exports.
type ModuleSpec struct {
	Functions []string
	Globals   map[string][]byte
}

// Options configures a simulated device.
type Options struct {
	Device              int
	Major, Minor        int
	MultiProcessorCount int
	// MaxSharedMem caps FuncAttributeMaxDynamicSharedSizeBytes. Zero means 227 KiB.
	MaxSharedMem int
	// Modules maps image contents to their exports. Unknown images fail to load.
	Modules map[string]ModuleSpec
}

// Launch is a recorded kernel launch.
type Launch struct {
	Function  driver.Function
	Name      string
	Grid      driver.Dim3
	Block     driver.Dim3
	SharedMem uint32
	Stream    driver.Stream
	Args      []driver.Arg
}

// AttributeCall is a recorded FuncSetAttribute.
type AttributeCall struct {
	Function driver.Function
	Name     string
	Attr     driver.FuncAttribute
	Value    int
}

// Memset is a recorded MemsetD32Async.
type Memset struct {
	Dst    driver.DevicePtr
	Value  uint32
	Count  uint64
	Stream driver.Stream
}

type module struct {
	image   string
	spec    ModuleSpec
	globals map[string]driver.DevicePtr
}

type function struct {
	module     driver.Module
	name       string
	maxDynSmem int
}

type allocation struct {
	base driver.DevicePtr
	data []byte
}

// Driver implements driver.Driver in host memory.
type Driver struct {
	opts Options

	mu         sync.Mutex
	nextHandle uintptr
	nextAddr   uintptr
	modules    map[driver.Module]*module
	functions  map[driver.Function]*function
	allocs     []*allocation

	loads      []string
	unloads    int
	launches   []Launch
	attributes []AttributeCall
	memsets    []Memset
	tensorMaps []driver.TensorMapSpec
}

var _ driver.Driver = (*Driver)(nil)

// New returns a simulated device. Zero capability fields default to an sm_80
// part with 108 multiprocessors.
func New(opts Options) *Driver {
	if opts.Major == 0 {
		opts.Major, opts.Minor = 8, 0
	}
	if opts.MultiProcessorCount == 0 {
		opts.MultiProcessorCount = 108
	}
	if opts.MaxSharedMem == 0 {
		opts.MaxSharedMem = 227 * 1024
	}
	return &Driver{
		opts:       opts,
		nextHandle: 1,
		nextAddr:   arenaBase,
		modules:    make(map[driver.Module]*module),
		functions:  make(map[driver.Function]*function),
	}
}

func (d *Driver) CurrentDevice() (int, error) {
	return d.opts.Device, nil
}

func (d *Driver) ComputeCapability(device int) (int, int, error) {
	if device != d.opts.Device {
		return 0, 0, driver.NewError("cuDeviceGetAttribute", driver.ErrorInvalidDevice, "invalid device ordinal")
	}
	return d.opts.Major, d.opts.Minor, nil
}

func (d *Driver) MultiProcessorCount(device int) (int, error) {
	if device != d.opts.Device {
		return 0, driver.NewError("cuDeviceGetAttribute", driver.ErrorInvalidDevice, "invalid device ordinal")
	}
	return d.opts.MultiProcessorCount, nil
}

func (d *Driver) ModuleLoadData(image []byte) (driver.Module, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(image)
	spec, ok := d.opts.Modules[key]
	if !ok {
		return 0, driver.NewError("cuModuleLoadData", driver.ErrorInvalidImage, "device kernel image is invalid")
	}
	m := &module{image: key, spec: spec, globals: make(map[string]driver.DevicePtr, len(spec.Globals))}
	for name, value := range spec.Globals {
		ptr := d.allocLocked(len(value))
		copy(d.findLocked(ptr).data, value)
		m.globals[name] = ptr
	}
	h := driver.Module(d.handleLocked())
	d.modules[h] = m
	d.loads = append(d.loads, key)
	return h, nil
}

func (d *Driver) ModuleUnload(m driver.Module) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.modules[m]; !ok {
		return driver.NewError("cuModuleUnload", driver.ErrorInvalidHandle, "invalid resource handle")
	}
	delete(d.modules, m)
	for h, fn := range d.functions {
		if fn.module == m {
			delete(d.functions, h)
		}
	}
	d.unloads++
	return nil
}

func (d *Driver) ModuleGetFunction(m driver.Module, name string) (driver.Function, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, ok := d.modules[m]
	if !ok {
		return 0, driver.NewError("cuModuleGetFunction", driver.ErrorInvalidHandle, "invalid resource handle")
	}
	for _, fn := range mod.spec.Functions {
		if fn == name {
			h := driver.Function(d.handleLocked())
			d.functions[h] = &function{module: m, name: name, maxDynSmem: DefaultSharedMemLimit}
			return h, nil
		}
	}
	return 0, driver.NewError("cuModuleGetFunction", driver.ErrorNotFound, "named symbol not found")
}

func (d *Driver) ModuleGetGlobal(m driver.Module, name string) (driver.DevicePtr, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, ok := d.modules[m]
	if !ok {
		return 0, 0, driver.NewError("cuModuleGetGlobal", driver.ErrorInvalidHandle, "invalid resource handle")
	}
	ptr, ok := mod.globals[name]
	if !ok {
		return 0, 0, driver.NewError("cuModuleGetGlobal", driver.ErrorNotFound, "named symbol not found")
	}
	return ptr, uint64(len(mod.spec.Globals[name])), nil
}

func (d *Driver) MemcpyDtoH(dst []byte, src driver.DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, err := d.sliceLocked(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, mem)
	return nil
}

func (d *Driver) MemsetD32Async(dst driver.DevicePtr, value uint32, count uint64, s driver.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, err := d.sliceLocked(dst, int(count*4))
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		binary.LittleEndian.PutUint32(mem[i*4:], value)
	}
	d.memsets = append(d.memsets, Memset{Dst: dst, Value: value, Count: count, Stream: s})
	return nil
}

func (d *Driver) FuncSetAttribute(f driver.Function, attr driver.FuncAttribute, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn, ok := d.functions[f]
	if !ok {
		return driver.NewError("cuFuncSetAttribute", driver.ErrorInvalidHandle, "invalid resource handle")
	}
	if attr == driver.FuncAttributeMaxDynamicSharedSizeBytes {
		if value > d.opts.MaxSharedMem {
			return driver.NewError("cuFuncSetAttribute", driver.ErrorInvalidValue, "invalid argument")
		}
		fn.maxDynSmem = value
	}
	d.attributes = append(d.attributes, AttributeCall{Function: f, Name: fn.name, Attr: attr, Value: value})
	return nil
}

func (d *Driver) LaunchKernel(f driver.Function, grid, block driver.Dim3, sharedMemBytes uint32, s driver.Stream, args []driver.Arg) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn, ok := d.functions[f]
	if !ok {
		return driver.NewError("cuLaunchKernel", driver.ErrorInvalidHandle, "invalid resource handle")
	}
	if grid.Count() == 0 || block.Count() == 0 {
		return driver.NewError("cuLaunchKernel", driver.ErrorInvalidValue, "invalid argument")
	}
	if int(sharedMemBytes) > fn.maxDynSmem {
		return driver.NewError("cuLaunchKernel", driver.ErrorInvalidValue,
			fmt.Sprintf("dynamic shared memory %d exceeds function limit %d", sharedMemBytes, fn.maxDynSmem))
	}
	recorded := make([]driver.Arg, len(args))
	for i, a := range args {
		if a != nil {
			recorded[i] = append(driver.Arg(nil), a...)
		}
	}
	d.launches = append(d.launches, Launch{
		Function:  f,
		Name:      fn.name,
		Grid:      grid,
		Block:     block,
		SharedMem: sharedMemBytes,
		Stream:    s,
		Args:      recorded,
	})
	return nil
}

func (d *Driver) TensorMapEncodeTiled(spec driver.TensorMapSpec) (driver.TensorMap, error) {
	rank := spec.Rank()
	if rank < 1 || rank > 5 || len(spec.GlobalStrides) != rank-1 || len(spec.BoxDim) != rank || len(spec.ElementStrides) != rank {
		return driver.TensorMap{}, driver.NewError("cuTensorMapEncodeTiled", driver.ErrorInvalidValue, "inconsistent tensor map rank")
	}
	if spec.GlobalAddress%16 != 0 {
		return driver.TensorMap{}, driver.NewError("cuTensorMapEncodeTiled", driver.ErrorInvalidValue, "global address must be 16-byte aligned")
	}
	for _, s := range spec.GlobalStrides {
		if s%16 != 0 {
			return driver.TensorMap{}, driver.NewError("cuTensorMapEncodeTiled", driver.ErrorInvalidValue, "global strides must be multiples of 16")
		}
	}
	for _, b := range spec.BoxDim {
		if b == 0 || b > 256 {
			return driver.TensorMap{}, driver.NewError("cuTensorMapEncodeTiled", driver.ErrorInvalidValue, "box dimension out of range")
		}
	}

	var tm driver.TensorMap
	binary.LittleEndian.PutUint64(tm[0:], uint64(spec.GlobalAddress))
	binary.LittleEndian.PutUint32(tm[8:], uint32(spec.DataType))
	binary.LittleEndian.PutUint32(tm[12:], uint32(rank))
	off := 16
	for i := 0; i < rank; i++ {
		binary.LittleEndian.PutUint64(tm[off:], spec.GlobalDim[i])
		off += 8
	}
	for i := 0; i < rank; i++ {
		binary.LittleEndian.PutUint16(tm[off:], uint16(spec.BoxDim[i]))
		off += 2
	}
	tm[off] = byte(spec.Swizzle)

	d.mu.Lock()
	d.tensorMaps = append(d.tensorMaps, spec)
	d.mu.Unlock()
	return tm, nil
}

// Alloc reserves zeroed device memory.
func (d *Driver) Alloc(bytes int) driver.DevicePtr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocLocked(bytes)
}

// Memory returns the live bytes backing [ptr, ptr+n).
func (d *Driver) Memory(ptr driver.DevicePtr, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sliceLocked(ptr, n)
}

// Write copies host bytes into device memory.
func (d *Driver) Write(ptr driver.DevicePtr, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, err := d.sliceLocked(ptr, len(src))
	if err != nil {
		return err
	}
	copy(mem, src)
	return nil
}

// Loads returns the images passed to ModuleLoadData, in order.
func (d *Driver) Loads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.loads...)
}

// LoadedModules returns the number of modules currently loaded.
func (d *Driver) LoadedModules() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.modules)
}

func (d *Driver) Launches() []Launch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Launch(nil), d.launches...)
}

func (d *Driver) Attributes() []AttributeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AttributeCall(nil), d.attributes...)
}

func (d *Driver) Memsets() []Memset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Memset(nil), d.memsets...)
}

func (d *Driver) TensorMaps() []driver.TensorMapSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.TensorMapSpec(nil), d.tensorMaps...)
}

func (d *Driver) handleLocked() uintptr {
	h := d.nextHandle
	d.nextHandle++
	return h
}

func (d *Driver) allocLocked(bytes int) driver.DevicePtr {
	if bytes <= 0 {
		bytes = 1
	}
	base := d.nextAddr
	d.nextAddr += uintptr((bytes + 255) / 256 * 256)
	a := &allocation{base: driver.DevicePtr(base), data: make([]byte, bytes)}
	d.allocs = append(d.allocs, a)
	return a.base
}

func (d *Driver) findLocked(ptr driver.DevicePtr) *allocation {
	for _, a := range d.allocs {
		if ptr >= a.base && ptr < a.base+driver.DevicePtr(len(a.data)) {
			return a
		}
	}
	return nil
}

func (d *Driver) sliceLocked(ptr driver.DevicePtr, n int) ([]byte, error) {
	a := d.findLocked(ptr)
	if a == nil {
		return nil, driver.NewError("sim", driver.ErrorInvalidValue, fmt.Sprintf("address %#x is not device memory", uintptr(ptr)))
	}
	off := int(ptr - a.base)
	if off+n > len(a.data) {
		return nil, driver.NewError("sim", driver.ErrorInvalidValue, fmt.Sprintf("access of %d bytes at %#x overruns allocation", n, uintptr(ptr)))
	}
	return a.data[off : off+n], nil
}
