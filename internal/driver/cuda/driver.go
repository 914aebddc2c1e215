//go:build cuda

// Package cuda implements driver.Driver on top of the CUDA driver API.
package cuda

/*
#cgo LDFLAGS: -lcuda

#include <stdint.h>
#include <stdlib.h>
#include <string.h>

// Minimal CUDA driver forward declarations to avoid requiring headers at compile time.
// Linker will still require libcuda when building with the cuda tag.
typedef int CUresult;
typedef int CUdevice;
typedef struct CUctx_st* CUcontext;
typedef struct CUmod_st* CUmodule;
typedef struct CUfunc_st* CUfunction;
typedef struct CUstream_st* CUstream;
typedef unsigned long long CUdeviceptr;

typedef struct {
	_Alignas(64) unsigned long long opaque[16];
} CUtensorMap;

extern CUresult cuInit(unsigned int flags);
extern CUresult cuGetErrorString(CUresult error, const char** str);
extern CUresult cuDeviceGet(CUdevice* device, int ordinal);
extern CUresult cuDeviceGetAttribute(int* value, int attrib, CUdevice dev);
extern CUresult cuDevicePrimaryCtxRetain(CUcontext* ctx, CUdevice dev);
extern CUresult cuDevicePrimaryCtxRelease_v2(CUdevice dev);
extern CUresult cuCtxSetCurrent(CUcontext ctx);
extern CUresult cuModuleLoadData(CUmodule* module, const void* image);
extern CUresult cuModuleUnload(CUmodule module);
extern CUresult cuModuleGetFunction(CUfunction* fn, CUmodule module, const char* name);
extern CUresult cuModuleGetGlobal_v2(CUdeviceptr* dptr, size_t* bytes, CUmodule module, const char* name);
extern CUresult cuMemcpyDtoH_v2(void* dst, CUdeviceptr src, size_t bytes);
extern CUresult cuMemsetD32Async(CUdeviceptr dst, unsigned int value, size_t count, CUstream stream);
extern CUresult cuFuncSetAttribute(CUfunction fn, int attrib, int value);
extern CUresult cuLaunchKernel(CUfunction fn,
	unsigned int gridX, unsigned int gridY, unsigned int gridZ,
	unsigned int blockX, unsigned int blockY, unsigned int blockZ,
	unsigned int sharedMemBytes, CUstream stream, void** params, void** extra);
extern CUresult cuTensorMapEncodeTiled(CUtensorMap* tensorMap, int dataType, uint32_t rank,
	void* globalAddress, const uint64_t* globalDim, const uint64_t* globalStrides,
	const uint32_t* boxDim, const uint32_t* elementStrides,
	int interleave, int swizzle, int l2Promotion, int oobFill);

static const char* xqaCuErrorString(int code) {
	const char* str = NULL;
	if (cuGetErrorString((CUresult)code, &str) != 0 || str == NULL) {
		return "unknown error";
	}
	return str;
}

static int xqaCuInit(void) {
	return (int)cuInit(0);
}

static int xqaCuDeviceGet(CUdevice* out, int ordinal) {
	return (int)cuDeviceGet(out, ordinal);
}

static int xqaCuDeviceGetAttribute(int* out, int attrib, CUdevice dev) {
	return (int)cuDeviceGetAttribute(out, attrib, dev);
}

static int xqaCuPrimaryCtxRetain(CUcontext* out, CUdevice dev) {
	return (int)cuDevicePrimaryCtxRetain(out, dev);
}

static int xqaCuPrimaryCtxRelease(CUdevice dev) {
	return (int)cuDevicePrimaryCtxRelease_v2(dev);
}

static int xqaCuCtxSetCurrent(CUcontext ctx) {
	return (int)cuCtxSetCurrent(ctx);
}

static int xqaCuModuleLoadData(CUmodule* out, const void* image) {
	return (int)cuModuleLoadData(out, image);
}

static int xqaCuModuleUnload(CUmodule module) {
	return (int)cuModuleUnload(module);
}

static int xqaCuModuleGetFunction(CUfunction* out, CUmodule module, const char* name) {
	return (int)cuModuleGetFunction(out, module, name);
}

static int xqaCuModuleGetGlobal(CUdeviceptr* out, size_t* bytes, CUmodule module, const char* name) {
	return (int)cuModuleGetGlobal_v2(out, bytes, module, name);
}

static int xqaCuMemcpyDtoH(void* dst, CUdeviceptr src, size_t bytes) {
	return (int)cuMemcpyDtoH_v2(dst, src, bytes);
}

static int xqaCuMemsetD32Async(CUdeviceptr dst, unsigned int value, size_t count, CUstream stream) {
	return (int)cuMemsetD32Async(dst, value, count, stream);
}

static int xqaCuFuncSetAttribute(CUfunction fn, int attrib, int value) {
	return (int)cuFuncSetAttribute(fn, attrib, value);
}

// Copies the packed argument blob into 64-byte aligned C memory, builds the
// NULL-terminated parameter array and launches. A negative offset marks a
// NULL entry.
static int xqaCuLaunchKernel(CUfunction fn,
	unsigned int gx, unsigned int gy, unsigned int gz,
	unsigned int bx, unsigned int by, unsigned int bz,
	unsigned int smem, CUstream stream,
	const unsigned char* blob, size_t blobLen, const long long* offsets, int count) {
	void* base = NULL;
	if (blobLen > 0) {
		if (posix_memalign(&base, 64, blobLen) != 0) {
			return 2;
		}
		memcpy(base, blob, blobLen);
	}
	void** params = (void**)malloc(sizeof(void*) * (size_t)(count + 1));
	if (params == NULL) {
		free(base);
		return 2;
	}
	for (int i = 0; i < count; i++) {
		params[i] = offsets[i] < 0 ? NULL : (void*)((unsigned char*)base + offsets[i]);
	}
	params[count] = NULL;
	CUresult r = cuLaunchKernel(fn, gx, gy, gz, bx, by, bz, smem, stream, params, NULL);
	free(params);
	free(base);
	return (int)r;
}

static int xqaCuTensorMapEncodeTiled(CUtensorMap* out, int dataType, uint32_t rank,
	CUdeviceptr addr, const uint64_t* dims, const uint64_t* strides,
	const uint32_t* box, const uint32_t* elemStrides,
	int interleave, int swizzle, int l2, int oob) {
	return (int)cuTensorMapEncodeTiled(out, dataType, rank, (void*)addr, dims, strides, box, elemStrides,
		interleave, swizzle, l2, oob);
}
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/samcharles93/xqa/internal/driver"
)

const (
	attrMultiProcessorCount    = 16
	attrComputeCapabilityMajor = 75
	attrComputeCapabilityMinor = 76
)

// Driver binds one device's primary context. Every call makes that context
// current on a locked OS thread, so a Driver may be shared between goroutines.
type Driver struct {
	ordinal int
	dev     C.CUdevice
	ctx     C.CUcontext
}

var _ driver.Driver = (*Driver)(nil)

// Open initializes the driver and retains the primary context of the device.
func Open(ordinal int) (*Driver, error) {
	if err := cuErr("cuInit", C.xqaCuInit()); err != nil {
		return nil, err
	}
	var dev C.CUdevice
	if err := cuErr("cuDeviceGet", C.xqaCuDeviceGet(&dev, C.int(ordinal))); err != nil {
		return nil, err
	}
	var ctx C.CUcontext
	if err := cuErr("cuDevicePrimaryCtxRetain", C.xqaCuPrimaryCtxRetain(&ctx, dev)); err != nil {
		return nil, err
	}
	return &Driver{ordinal: ordinal, dev: dev, ctx: ctx}, nil
}

// Close releases the primary context retained by Open.
func (d *Driver) Close() error {
	if d.ctx == nil {
		return nil
	}
	err := cuErr("cuDevicePrimaryCtxRelease", C.xqaCuPrimaryCtxRelease(d.dev))
	d.ctx = nil
	return err
}

func (d *Driver) bind() (func(), error) {
	runtime.LockOSThread()
	if err := cuErr("cuCtxSetCurrent", C.xqaCuCtxSetCurrent(d.ctx)); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}

func (d *Driver) CurrentDevice() (int, error) {
	return d.ordinal, nil
}

func (d *Driver) attribute(attrib int, device int) (int, error) {
	var dev C.CUdevice
	if err := cuErr("cuDeviceGet", C.xqaCuDeviceGet(&dev, C.int(device))); err != nil {
		return 0, err
	}
	var v C.int
	if err := cuErr("cuDeviceGetAttribute", C.xqaCuDeviceGetAttribute(&v, C.int(attrib), dev)); err != nil {
		return 0, err
	}
	return int(v), nil
}

func (d *Driver) ComputeCapability(device int) (int, int, error) {
	major, err := d.attribute(attrComputeCapabilityMajor, device)
	if err != nil {
		return 0, 0, err
	}
	minor, err := d.attribute(attrComputeCapabilityMinor, device)
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

func (d *Driver) MultiProcessorCount(device int) (int, error) {
	return d.attribute(attrMultiProcessorCount, device)
}

func (d *Driver) ModuleLoadData(image []byte) (driver.Module, error) {
	if len(image) == 0 {
		return 0, driver.NewError("cuModuleLoadData", driver.ErrorInvalidImage, "empty image")
	}
	unbind, err := d.bind()
	if err != nil {
		return 0, err
	}
	defer unbind()
	var mod C.CUmodule
	if err := cuErr("cuModuleLoadData", C.xqaCuModuleLoadData(&mod, unsafe.Pointer(&image[0]))); err != nil {
		return 0, err
	}
	runtime.KeepAlive(image)
	return driver.Module(uintptr(unsafe.Pointer(mod))), nil
}

func (d *Driver) ModuleUnload(m driver.Module) error {
	unbind, err := d.bind()
	if err != nil {
		return err
	}
	defer unbind()
	return cuErr("cuModuleUnload", C.xqaCuModuleUnload(cModule(m)))
}

func (d *Driver) ModuleGetFunction(m driver.Module, name string) (driver.Function, error) {
	unbind, err := d.bind()
	if err != nil {
		return 0, err
	}
	defer unbind()
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.CUfunction
	if err := cuErr("cuModuleGetFunction", C.xqaCuModuleGetFunction(&fn, cModule(m), cname)); err != nil {
		return 0, err
	}
	return driver.Function(uintptr(unsafe.Pointer(fn))), nil
}

func (d *Driver) ModuleGetGlobal(m driver.Module, name string) (driver.DevicePtr, uint64, error) {
	unbind, err := d.bind()
	if err != nil {
		return 0, 0, err
	}
	defer unbind()
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var ptr C.CUdeviceptr
	var size C.size_t
	if err := cuErr("cuModuleGetGlobal", C.xqaCuModuleGetGlobal(&ptr, &size, cModule(m), cname)); err != nil {
		return 0, 0, err
	}
	return driver.DevicePtr(ptr), uint64(size), nil
}

func (d *Driver) MemcpyDtoH(dst []byte, src driver.DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	unbind, err := d.bind()
	if err != nil {
		return err
	}
	defer unbind()
	err = cuErr("cuMemcpyDtoH", C.xqaCuMemcpyDtoH(unsafe.Pointer(&dst[0]), C.CUdeviceptr(src), C.size_t(len(dst))))
	runtime.KeepAlive(dst)
	return err
}

func (d *Driver) MemsetD32Async(dst driver.DevicePtr, value uint32, count uint64, s driver.Stream) error {
	if count == 0 {
		return nil
	}
	unbind, err := d.bind()
	if err != nil {
		return err
	}
	defer unbind()
	return cuErr("cuMemsetD32Async", C.xqaCuMemsetD32Async(C.CUdeviceptr(dst), C.uint(value), C.size_t(count), cStream(s)))
}

func (d *Driver) FuncSetAttribute(f driver.Function, attr driver.FuncAttribute, value int) error {
	unbind, err := d.bind()
	if err != nil {
		return err
	}
	defer unbind()
	return cuErr("cuFuncSetAttribute", C.xqaCuFuncSetAttribute(cFunction(f), C.int(attr), C.int(value)))
}

func (d *Driver) LaunchKernel(f driver.Function, grid, block driver.Dim3, sharedMemBytes uint32, s driver.Stream, args []driver.Arg) error {
	blob, offsets := packArgs(args)
	unbind, err := d.bind()
	if err != nil {
		return err
	}
	defer unbind()

	var blobPtr *C.uchar
	if len(blob) > 0 {
		blobPtr = (*C.uchar)(unsafe.Pointer(&blob[0]))
	}
	var offPtr *C.longlong
	if len(offsets) > 0 {
		offPtr = (*C.longlong)(unsafe.Pointer(&offsets[0]))
	}
	err = cuErr("cuLaunchKernel", C.xqaCuLaunchKernel(
		cFunction(f),
		C.uint(grid.X), C.uint(grid.Y), C.uint(grid.Z),
		C.uint(block.X), C.uint(block.Y), C.uint(block.Z),
		C.uint(sharedMemBytes), cStream(s),
		blobPtr, C.size_t(len(blob)), offPtr, C.int(len(offsets)),
	))
	runtime.KeepAlive(blob)
	runtime.KeepAlive(offsets)
	return err
}

func (d *Driver) TensorMapEncodeTiled(spec driver.TensorMapSpec) (driver.TensorMap, error) {
	rank := spec.Rank()
	if rank == 0 || len(spec.GlobalStrides) != rank-1 || len(spec.BoxDim) != rank || len(spec.ElementStrides) != rank {
		return driver.TensorMap{}, driver.NewError("cuTensorMapEncodeTiled", driver.ErrorInvalidValue, "inconsistent tensor map rank")
	}
	unbind, err := d.bind()
	if err != nil {
		return driver.TensorMap{}, err
	}
	defer unbind()

	dims := make([]C.uint64_t, rank)
	for i, v := range spec.GlobalDim {
		dims[i] = C.uint64_t(v)
	}
	strides := make([]C.uint64_t, rank)
	for i, v := range spec.GlobalStrides {
		strides[i] = C.uint64_t(v)
	}
	box := make([]C.uint32_t, rank)
	for i, v := range spec.BoxDim {
		box[i] = C.uint32_t(v)
	}
	elem := make([]C.uint32_t, rank)
	for i, v := range spec.ElementStrides {
		elem[i] = C.uint32_t(v)
	}

	var out C.CUtensorMap
	if err := cuErr("cuTensorMapEncodeTiled", C.xqaCuTensorMapEncodeTiled(
		&out, C.int(spec.DataType), C.uint32_t(rank),
		C.CUdeviceptr(spec.GlobalAddress), &dims[0], &strides[0], &box[0], &elem[0],
		C.int(spec.Interleave), C.int(spec.Swizzle), C.int(spec.L2Promotion), C.int(spec.OOBFill),
	)); err != nil {
		return driver.TensorMap{}, err
	}
	var tm driver.TensorMap
	copy(tm[:], unsafe.Slice((*byte)(unsafe.Pointer(&out)), len(tm)))
	return tm, nil
}

func cModule(m driver.Module) C.CUmodule {
	return C.CUmodule(unsafe.Pointer(uintptr(m)))
}

func cFunction(f driver.Function) C.CUfunction {
	return C.CUfunction(unsafe.Pointer(uintptr(f)))
}

func cStream(s driver.Stream) C.CUstream {
	return C.CUstream(unsafe.Pointer(uintptr(s)))
}

func cuErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.xqaCuErrorString(code))
	return driver.NewError(op, driver.Result(code), msg)
}
