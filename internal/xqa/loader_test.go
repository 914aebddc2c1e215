package xqa

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver/sim"
	"github.com/samcharles93/xqa/internal/dtype"
)

func TestLoaderBuildsEachListOnce(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{}, catalog.Default())
	loader := NewLoader(catalog.Default(), images, DefaultOptions())

	const workers = 8
	lists := make([]*KernelList, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lists[i], errs[i] = loader.KernelList(drv, dtype.FP16)
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Same(t, lists[0], lists[i])
	}
	cubins := catalog.Cubins(catalog.Filter(catalog.Default(), catalog.SM80, dtype.FP16))
	require.Len(t, drv.Loads(), len(cubins))
	require.Equal(t, 1, loader.Devices())

	bf16, err := loader.KernelList(drv, dtype.BF16)
	require.NoError(t, err)
	require.NotSame(t, lists[0], bf16)
	require.Len(t, loader.Lists(), 2)
}

func TestLoaderKeysByDevice(t *testing.T) {
	descs := catalog.Default()
	images, modules := sim.CatalogImages(descs)
	dev0 := sim.New(sim.Options{Device: 0, Modules: modules})
	dev1 := sim.New(sim.Options{Device: 1, Modules: modules})
	loader := NewLoader(descs, images, DefaultOptions())

	a, err := loader.KernelList(dev0, dtype.FP16)
	require.NoError(t, err)
	b, err := loader.KernelList(dev1, dtype.FP16)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, 2, loader.Devices())
	require.NotEmpty(t, dev0.Loads())
	require.Len(t, dev1.Loads(), len(dev0.Loads()))
}

func TestLoaderRejectsDevicesOverLimit(t *testing.T) {
	descs := catalog.Default()
	images, modules := sim.CatalogImages(descs)
	drv := sim.New(sim.Options{Device: 40, Modules: modules})
	loader := NewLoader(descs, images, DefaultOptions())

	_, err := loader.KernelList(drv, dtype.FP16)
	require.ErrorIs(t, err, ErrTooManyDevices)
	require.Empty(t, drv.Loads())

	opts := DefaultOptions()
	opts.MaxDevices = 64
	_, err = NewLoader(descs, images, opts).KernelList(drv, dtype.FP16)
	require.NoError(t, err)
}

func TestLoaderShutdownUnloadsModules(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{}, catalog.Default())
	loader := NewLoader(catalog.Default(), images, DefaultOptions())
	_, err := loader.KernelList(drv, dtype.FP16)
	require.NoError(t, err)
	require.NotZero(t, drv.LoadedModules())

	require.NoError(t, loader.Shutdown())
	require.Zero(t, drv.LoadedModules())
	require.Empty(t, loader.Lists())

	_, err = loader.KernelList(drv, dtype.FP16)
	require.Error(t, err)
}

func TestLoaderReleasesModulesOnFailedLoad(t *testing.T) {
	descs := catalog.Filter(catalog.Default(), catalog.SM80, dtype.FP16)
	images, modules := sim.CatalogImages(descs)
	// Drop one image so the load fails part way through.
	delete(images, catalog.Cubins(descs)[3].Name)
	drv := sim.New(sim.Options{Modules: modules})
	loader := NewLoader(descs, images, DefaultOptions())

	_, err := loader.KernelList(drv, dtype.FP16)
	require.ErrorIs(t, err, catalog.ErrImageNotFound)
	require.Zero(t, drv.LoadedModules())
	require.Empty(t, loader.Lists())
}
