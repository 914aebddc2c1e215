// Package backend selects the driver the dispatcher runs on: the CUDA
// driver API when the binary is built with the "cuda" tag, or the host
// simulation.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/driver/sim"
	"github.com/samcharles93/xqa/internal/xqa"
)

const (
	Sim  = "sim"
	CUDA = "cuda"
	Auto = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cuda)", backend)
	}
}

// Config describes the device to open.
type Config struct {
	Device      int
	Descriptors []catalog.Descriptor
	// CubinDir holds cubin images for the cuda backend.
	CubinDir string
	// SM and MultiProcessorCount shape the simulated device. Zero values
	// default to sm_80 with 108 SMs.
	SM                  catalog.SM
	MultiProcessorCount int
}

// Backend is an opened driver plus where its cubins come from. The
// preprocessing and conversion collaborators are only available on the sim
// backend; on real hardware they belong to the host application.
type Backend struct {
	Name         string
	Driver       driver.Driver
	Images       catalog.ImageSource
	Preprocessor xqa.Preprocessor
	Converter    xqa.OutputConverter

	closers []func() error
}

// Close releases the device context and any mapped images.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// Open opens the named backend. Auto prefers cuda and falls back to sim.
func Open(name string, cfg Config) (*Backend, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if cfg.Descriptors == nil {
		cfg.Descriptors = catalog.Default()
	}
	switch name {
	case Sim:
		return openSim(cfg), nil
	case CUDA:
		return openCUDA(cfg)
	default:
		if cudaEnabled {
			if b, err := openCUDA(cfg); err == nil {
				return b, nil
			}
		}
		return openSim(cfg), nil
	}
}

func openSim(cfg Config) *Backend {
	sm := cfg.SM
	if sm == 0 {
		sm = catalog.SM80
	}
	drv, images := sim.ForCatalog(sim.Options{
		Device:              cfg.Device,
		Major:               int(sm) / 10,
		Minor:               int(sm) % 10,
		MultiProcessorCount: cfg.MultiProcessorCount,
	}, cfg.Descriptors)
	return &Backend{
		Name:         Sim,
		Driver:       drv,
		Images:       images,
		Preprocessor: sim.NewPreprocessor(drv),
		Converter:    sim.NewConverter(drv),
	}
}
