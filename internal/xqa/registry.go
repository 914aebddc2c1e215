package xqa

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/logger"
)

// sharedMemAttrThreshold leaves room for static and driver-reserved shared
// memory under the 48 KiB default.
const sharedMemAttrThreshold = 46 * 1024

// Kernel is a loaded, launch-ready entry point.
type Kernel struct {
	Function   driver.Function
	SharedMem  uint32
	Type       catalog.KernelType
	Descriptor catalog.Descriptor
	Key        Key
	// Index is the descriptor's position in the catalog.
	Index int
}

// KernelList holds every kernel of one activation type on one architecture
// class, loaded on one device. Load must complete before lookups; after
// that the list is read-only.
type KernelList struct {
	drv    driver.Driver
	images catalog.ImageSource
	descs  []catalog.Descriptor
	dt     dtype.DataType
	sm     catalog.SM
	force  bool
	log    logger.Logger

	mu      sync.Mutex
	loaded  atomic.Bool
	kernels map[Key]Kernel
	modules map[*catalog.Cubin]driver.Module
}

// NewKernelList prepares a list for (dt, sm). Nothing is loaded until Load.
func NewKernelList(drv driver.Driver, images catalog.ImageSource, descs []catalog.Descriptor, dt dtype.DataType, sm catalog.SM, opts Options) *KernelList {
	opts = opts.withDefaults()
	return &KernelList{
		drv:     drv,
		images:  images,
		descs:   descs,
		dt:      dt,
		sm:      sm,
		force:   opts.ForceXQA,
		log:     opts.Logger.With("dtype", dt.String(), "sm", sm.String()),
		kernels: make(map[Key]Kernel),
		modules: make(map[*catalog.Cubin]driver.Module),
	}
}

func (l *KernelList) DataType() dtype.DataType { return l.dt }
func (l *KernelList) SM() catalog.SM           { return l.sm }

// Load resolves every matching descriptor. It is a no-op once it has
// succeeded.
func (l *KernelList) Load() error {
	if l.loaded.Load() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded.Load() {
		return nil
	}

	for i, d := range l.descs {
		if d.SM != l.sm || d.DataType != l.dt {
			continue
		}
		// Configurations served by runtime compilation ship no cubin.
		if d.Cubin == nil {
			continue
		}
		k, err := l.loadKernel(i, d)
		if err != nil {
			return err
		}
		l.kernels[k.Key] = k
	}
	l.loaded.Store(true)
	l.log.Debug("kernel list loaded", "kernels", len(l.kernels), "modules", len(l.modules))
	return nil
}

func (l *KernelList) loadKernel(index int, d catalog.Descriptor) (Kernel, error) {
	mod, ok := l.modules[d.Cubin]
	if !ok {
		image, err := l.images.Image(d.Cubin)
		if err != nil {
			return Kernel{}, errors.Wrapf(err, "while loading cubin %s", d.Cubin.Name)
		}
		mod, err = l.drv.ModuleLoadData(image)
		if err != nil {
			return Kernel{}, errors.Wrapf(err, "while loading module %s", d.Cubin.Name)
		}
		l.modules[d.Cubin] = mod
		l.log.Debug("module loaded", "cubin", d.Cubin.Name, "size", humanize.IBytes(uint64(len(image))))
	}

	fn, err := l.drv.ModuleGetFunction(mod, d.FuncName)
	if err != nil {
		return Kernel{}, errors.Wrapf(err, "while resolving %s in %s", d.FuncName, d.Cubin.Name)
	}
	smem, ok, err := readGlobal[uint32](l.drv, mod, "smemSize")
	if err != nil {
		return Kernel{}, errors.Wrapf(err, "while reading smemSize of %s", d.Cubin.Name)
	}
	if !ok {
		return Kernel{}, errors.Errorf("cubin %s has no smemSize global", d.Cubin.Name)
	}
	kt, ok, err := readGlobal[uint32](l.drv, mod, "kernelType")
	if err != nil {
		return Kernel{}, errors.Wrapf(err, "while reading kernelType of %s", d.Cubin.Name)
	}
	if !ok {
		kt = uint32(catalog.AmpereWarpSpecialized)
	}

	if smem >= sharedMemAttrThreshold {
		if err := l.drv.FuncSetAttribute(fn, driver.FuncAttributeMaxDynamicSharedSizeBytes, int(smem)); err != nil {
			return Kernel{}, errors.Wrapf(err, "while raising shared memory of %s to %d", d.FuncName, smem)
		}
		l.log.Debug("raised dynamic shared memory", "func", d.FuncName, "cubin", d.Cubin.Name, "smem", humanize.IBytes(uint64(smem)))
	}
	return Kernel{
		Function:   fn,
		SharedMem:  smem,
		Type:       catalog.KernelType(kt),
		Descriptor: d,
		Key:        descriptorKey(d),
		Index:      index,
	}, nil
}

// readGlobal copies a module global of type T to the host. A missing symbol
// reports ok == false with no error.
func readGlobal[T constraints.Unsigned](drv driver.Driver, mod driver.Module, name string) (T, bool, error) {
	var zero T
	ptr, size, err := drv.ModuleGetGlobal(mod, name)
	if err != nil {
		if driver.IsNotFound(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	want := uint64(unsafe.Sizeof(zero))
	if size != want {
		return zero, false, errors.Errorf("global %s is %d bytes, want %d", name, size, want)
	}
	buf := make([]byte, want)
	if err := drv.MemcpyDtoH(buf, ptr); err != nil {
		return zero, false, err
	}
	var v uint64
	switch want {
	case 1:
		v = uint64(buf[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(buf))
	default:
		v = binary.LittleEndian.Uint64(buf)
	}
	return T(v), true, nil
}

// Lookup returns the kernel for a request key.
func (l *KernelList) Lookup(k Key) (Kernel, bool) {
	kern, ok := l.kernels[k]
	return kern, ok
}

// Supports reports whether a kernel exists for p. Only a head count that is
// not a multiple of the KV head count is an error.
func (l *KernelList) Supports(p *Params) (bool, error) {
	k, err := requestKey(p)
	if err != nil {
		return false, err
	}
	_, ok := l.kernels[k]
	return ok, nil
}

// MayOutperformGeneric applies the occupancy heuristic, honoring the force
// option.
func (l *KernelList) MayOutperformGeneric(p *Params, smCount int) bool {
	return mayOutperformGeneric(p, smCount, l.force)
}

// Kernels returns the loaded kernels ordered by catalog index.
func (l *KernelList) Kernels() []Kernel {
	out := make([]Kernel, 0, len(l.kernels))
	for _, k := range l.kernels {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ModuleCount returns the number of distinct modules loaded.
func (l *KernelList) ModuleCount() int {
	return len(l.modules)
}

// unload releases every module. The list must not be used afterwards.
func (l *KernelList) unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for c, m := range l.modules {
		if err := l.drv.ModuleUnload(m); err != nil && first == nil {
			first = errors.Wrapf(err, "while unloading %s", c.Name)
		}
		delete(l.modules, c)
	}
	clear(l.kernels)
	l.loaded.Store(false)
	return first
}
