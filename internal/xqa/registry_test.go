package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/driver/sim"
	"github.com/samcharles93/xqa/internal/dtype"
)

func TestLoadIsIdempotentAndReusesModules(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{}, catalog.Default())
	kl := NewKernelList(drv, images, catalog.Default(), dtype.FP16, catalog.SM80, DefaultOptions())
	require.NoError(t, kl.Load())

	matching := catalog.Filter(catalog.Default(), catalog.SM80, dtype.FP16)
	cubins := catalog.Cubins(matching)
	require.Len(t, drv.Loads(), len(cubins), "one module per cubin")
	require.Equal(t, len(cubins), kl.ModuleCount())
	require.Len(t, kl.Kernels(), len(matching))
	attrs := len(drv.Attributes())

	require.NoError(t, kl.Load())
	require.Len(t, drv.Loads(), len(cubins))
	require.Len(t, drv.Attributes(), attrs)
}

func TestLoadRaisesSharedMemoryOnlyAboveThreshold(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{}, catalog.Default())
	kl := NewKernelList(drv, images, catalog.Default(), dtype.FP16, catalog.SM80, DefaultOptions())
	require.NoError(t, kl.Load())

	raised := make(map[driver.Function]int)
	for _, a := range drv.Attributes() {
		require.Equal(t, driver.FuncAttributeMaxDynamicSharedSizeBytes, a.Attr)
		raised[a.Function]++
	}
	for _, k := range kl.Kernels() {
		require.Equal(t, sim.SharedMemFor(k.Descriptor), k.SharedMem)
		if k.SharedMem >= sharedMemAttrThreshold {
			require.Equal(t, 1, raised[k.Function], k.Descriptor.String())
		} else {
			require.Zero(t, raised[k.Function], k.Descriptor.String())
		}
	}
}

func TestLoadSkipsDescriptorsWithoutCubin(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{Major: 9}, catalog.Default())
	kl := NewKernelList(drv, images, catalog.Default(), dtype.FP16, catalog.SM90, DefaultOptions())
	require.NoError(t, kl.Load())

	for _, k := range kl.Kernels() {
		require.NotNil(t, k.Descriptor.Cubin)
		require.NotEqual(t, dtype.INT8, k.Descriptor.KVDataType)
	}
	p := decodeParams(1, 2, 8)
	p.KVCacheDataType = dtype.INT8
	ok, err := kl.Supports(p)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKernelTypeDefaultsToAmpere(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{Major: 9}, catalog.Default())
	kl := NewKernelList(drv, images, catalog.Default(), dtype.BF16, catalog.SM90, DefaultOptions())
	require.NoError(t, kl.Load())

	var hopper, ampere int
	for _, k := range kl.Kernels() {
		require.Equal(t, sim.KernelTypeFor(k.Descriptor), k.Type, k.Descriptor.String())
		if k.Type == catalog.HopperWarpSpecialized {
			hopper++
		} else {
			ampere++
		}
	}
	require.NotZero(t, hopper)
	require.NotZero(t, ampere)
}

// singleDescriptor returns one sm_80 fp16 descriptor backed by a custom
// module built from globals.
func singleDescriptor(globals map[string][]byte) (*sim.Driver, catalog.MapSource, []catalog.Descriptor) {
	cubin := &catalog.Cubin{Name: "custom.cubin"}
	d := catalog.Descriptor{
		SM:              catalog.SM80,
		DataType:        dtype.FP16,
		KVDataType:      dtype.FP16,
		HeadDim:         128,
		BeamWidth:       1,
		NumQHeadsOverKV: 8,
		MTileSize:       8,
		FuncName:        catalog.SingleTokenFunc,
		Cubin:           cubin,
	}
	drv := sim.New(sim.Options{Modules: map[string]sim.ModuleSpec{
		"custom": {Functions: []string{catalog.SingleTokenFunc}, Globals: globals},
	}})
	return drv, catalog.MapSource{cubin.Name: []byte("custom")}, []catalog.Descriptor{d}
}

func TestLoadSharesModuleBetweenDescriptorsOfOneCubin(t *testing.T) {
	drv, images, descs := singleDescriptor(map[string][]byte{"smemSize": le32(1024)})
	other := descs[0]
	other.NumQHeadsOverKV = 4
	other.MTileSize = 4
	descs = append(descs, other)

	kl := NewKernelList(drv, images, descs, dtype.FP16, catalog.SM80, DefaultOptions())
	require.NoError(t, kl.Load())
	require.Len(t, drv.Loads(), 1)
	require.Equal(t, 1, kl.ModuleCount())
	require.Len(t, kl.Kernels(), 2)
}

func TestLoadFailsWithoutSharedMemoryGlobal(t *testing.T) {
	drv, images, descs := singleDescriptor(map[string][]byte{"kernelType": le32(0)})
	kl := NewKernelList(drv, images, descs, dtype.FP16, catalog.SM80, DefaultOptions())
	err := kl.Load()
	require.ErrorContains(t, err, "smemSize")
	require.Empty(t, kl.Kernels())
}

func TestLoadRejectsMisSizedGlobal(t *testing.T) {
	drv, images, descs := singleDescriptor(map[string][]byte{"smemSize": {1, 2}})
	kl := NewKernelList(drv, images, descs, dtype.FP16, catalog.SM80, DefaultOptions())
	require.ErrorContains(t, kl.Load(), "2 bytes, want 4")
}

func TestLoadPropagatesMissingImage(t *testing.T) {
	drv, _, descs := singleDescriptor(map[string][]byte{"smemSize": le32(1024)})
	kl := NewKernelList(drv, catalog.MapSource{}, descs, dtype.FP16, catalog.SM80, DefaultOptions())
	require.ErrorIs(t, kl.Load(), catalog.ErrImageNotFound)
}

func TestSupportsAndForce(t *testing.T) {
	drv, images := sim.ForCatalog(sim.Options{}, catalog.Default())
	opts := DefaultOptions()
	opts.ForceXQA = true
	kl := NewKernelList(drv, images, catalog.Default(), dtype.FP16, catalog.SM80, opts)
	require.NoError(t, kl.Load())

	p := decodeParams(1, 1, 8)
	ok, err := kl.Supports(p)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, kl.MayOutperformGeneric(p, 1000))

	p.HeadSize = 96
	ok, err = kl.Supports(p)
	require.NoError(t, err)
	require.False(t, ok)
}
