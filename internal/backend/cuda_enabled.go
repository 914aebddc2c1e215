//go:build cuda

package backend

import (
	"fmt"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/driver/cuda"
)

const cudaEnabled = true

func openCUDA(cfg Config) (*Backend, error) {
	if cfg.CubinDir == "" {
		return nil, fmt.Errorf("cuda backend needs a cubin directory")
	}
	drv, err := cuda.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open cuda device %d: %w", cfg.Device, err)
	}
	images := catalog.NewDirSource(cfg.CubinDir)
	return &Backend{
		Name:    CUDA,
		Driver:  drv,
		Images:  images,
		closers: []func() error{drv.Close, images.Close},
	}, nil
}
