package sim

import (
	"encoding/binary"
	"slices"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/dtype"
)

// kvTileTokens is the KV tile a simulated kernel double-buffers in shared memory.
const kvTileTokens = 64

// SharedMemFor returns the dynamic shared memory a simulated kernel for d
// reports through its smemSize global.
func SharedMemFor(d catalog.Descriptor) uint32 {
	rows := d.NumQHeadsOverKV
	if d.MultiQueryTokens {
		rows = d.MTileSize
	}
	q := d.HeadDim * d.DataType.Size() * rows * d.BeamWidth
	kv := 2 * 2 * kvTileTokens * d.HeadDim * d.KVDataType.Size()
	return uint32(q + kv)
}

// KernelTypeFor reports the argument convention a simulated cubin declares.
// Only single-token fp8 sm_90 kernels with beam width one use the Hopper
// convention.
func KernelTypeFor(d catalog.Descriptor) catalog.KernelType {
	if d.SM == catalog.SM90 && d.KVDataType == dtype.E4M3 && d.BeamWidth == 1 && !d.MultiQueryTokens {
		return catalog.HopperWarpSpecialized
	}
	return catalog.AmpereWarpSpecialized
}

// CatalogImages fabricates an image per cubin referenced by descs. Each image
// is the cubin name, and its module exports every entry point the descriptors
// name plus smemSize. kernelType is only emitted for Hopper kernels, so the
// default convention is exercised for the rest.
func CatalogImages(descs []catalog.Descriptor) (catalog.MapSource, map[string]ModuleSpec) {
	images := make(catalog.MapSource)
	modules := make(map[string]ModuleSpec)
	for _, d := range descs {
		if d.Cubin == nil {
			continue
		}
		name := d.Cubin.Name
		images[name] = []byte(name)
		spec, ok := modules[name]
		if !ok {
			spec.Globals = map[string][]byte{"smemSize": le32(SharedMemFor(d))}
			if kt := KernelTypeFor(d); kt != catalog.AmpereWarpSpecialized {
				spec.Globals["kernelType"] = le32(uint32(kt))
			}
		}
		if !slices.Contains(spec.Functions, d.FuncName) {
			spec.Functions = append(spec.Functions, d.FuncName)
		}
		modules[name] = spec
	}
	return images, modules
}

// ForCatalog returns a driver whose modules serve descs, and the matching
// image source.
func ForCatalog(opts Options, descs []catalog.Descriptor) (*Driver, catalog.MapSource) {
	images, modules := CatalogImages(descs)
	if opts.Modules == nil {
		opts.Modules = modules
	} else {
		for k, v := range modules {
			opts.Modules[k] = v
		}
	}
	return New(opts), images
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
