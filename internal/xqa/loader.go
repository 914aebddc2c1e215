package xqa

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/dtype"
)

type listKey struct {
	device int
	dt     dtype.DataType
	sm     catalog.SM
}

func (k listKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.device, k.dt, k.sm)
}

// Loader caches one loaded KernelList per (device, activation type,
// architecture class). Each list is built once; concurrent first callers
// share the build and later callers take no locks.
type Loader struct {
	images catalog.ImageSource
	descs  []catalog.Descriptor
	opts   Options

	lists sync.Map // listKey -> *KernelList
	group singleflight.Group

	mu      sync.Mutex
	devices map[int]struct{}
	closed  bool
}

// NewLoader returns a loader over descs whose cubins come from images.
func NewLoader(descs []catalog.Descriptor, images catalog.ImageSource, opts Options) *Loader {
	return &Loader{
		images:  images,
		descs:   descs,
		opts:    opts.withDefaults(),
		devices: make(map[int]struct{}),
	}
}

// Options returns the effective options.
func (l *Loader) Options() Options { return l.opts }

// KernelList returns the loaded list for dt on the device drv is bound to,
// loading it on first use.
func (l *Loader) KernelList(drv driver.Driver, dt dtype.DataType) (*KernelList, error) {
	device, err := drv.CurrentDevice()
	if err != nil {
		return nil, errors.Wrap(err, "while querying current device")
	}
	major, minor, err := drv.ComputeCapability(device)
	if err != nil {
		return nil, errors.Wrapf(err, "while querying compute capability of device %d", device)
	}
	return l.list(drv, listKey{device: device, dt: dt, sm: catalog.FromCapability(major, minor)})
}

func (l *Loader) list(drv driver.Driver, key listKey) (*KernelList, error) {
	if v, ok := l.lists.Load(key); ok {
		return v.(*KernelList), nil
	}
	if err := l.registerDevice(key.device); err != nil {
		return nil, err
	}
	v, err, _ := l.group.Do(key.String(), func() (any, error) {
		if v, ok := l.lists.Load(key); ok {
			return v, nil
		}
		kl := NewKernelList(drv, l.images, l.descs, key.dt, key.sm, l.opts)
		if err := kl.Load(); err != nil {
			// Release whatever made it in before the failure.
			_ = kl.unload()
			return nil, errors.WithMessagef(err, "loading kernels for %s on device %d", key.dt, key.device)
		}
		l.lists.Store(key, kl)
		l.opts.Logger.Info("kernels loaded",
			"device", key.device, "dtype", key.dt.String(), "sm", key.sm.String(),
			"kernels", len(kl.kernels), "modules", kl.ModuleCount())
		return kl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KernelList), nil
}

func (l *Loader) registerDevice(device int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("xqa: loader is shut down")
	}
	if device < 0 || device >= l.opts.MaxDevices {
		return errors.Wrapf(ErrTooManyDevices, "device %d, limit %d", device, l.opts.MaxDevices)
	}
	l.devices[device] = struct{}{}
	return nil
}

// Lists returns every loaded list.
func (l *Loader) Lists() []*KernelList {
	var out []*KernelList
	l.lists.Range(func(_, v any) bool {
		out = append(out, v.(*KernelList))
		return true
	})
	return out
}

// Devices returns the number of devices with at least one list requested.
func (l *Loader) Devices() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.devices)
}

// Shutdown unloads every module. The loader rejects requests afterwards.
func (l *Loader) Shutdown() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	var first error
	l.lists.Range(func(k, v any) bool {
		if err := v.(*KernelList).unload(); err != nil && first == nil {
			first = err
		}
		l.lists.Delete(k)
		return true
	})
	return first
}
