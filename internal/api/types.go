package api

import (
	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/version"
	"github.com/samcharles93/xqa/internal/xqa"
)

type HealthResponse struct {
	Status  string       `json:"status"`
	Device  int          `json:"device"`
	SM      string       `json:"sm"`
	SMCount int          `json:"multiprocessor_count"`
	Version version.Info `json:"version"`
}

// CatalogEntry is a descriptor plus the binary that provides it.
type CatalogEntry struct {
	catalog.Descriptor
	Cubin string `json:"cubin,omitempty"`
}

type CatalogResponse struct {
	Object string         `json:"object"`
	Data   []CatalogEntry `json:"data"`
}

type KernelEntry struct {
	Index     int    `json:"index"`
	Func      string `json:"func"`
	Cubin     string `json:"cubin"`
	SharedMem uint32 `json:"shared_mem"`
	Type      string `json:"kernel_type"`
	Key       string `json:"key"`
}

type KernelListEntry struct {
	DataType string        `json:"data_type"`
	SM       string        `json:"sm"`
	Modules  int           `json:"modules"`
	Kernels  []KernelEntry `json:"kernels"`
}

type KernelsResponse struct {
	Object  string            `json:"object"`
	Devices int               `json:"devices"`
	Data    []KernelListEntry `json:"data"`
}

// CheckResponse reports how a request would be dispatched.
type CheckResponse struct {
	Supported      bool         `json:"supported"`
	UseXQA         bool         `json:"use_xqa"`
	WorkspaceBytes int          `json:"workspace_bytes"`
	MultiBlock     int          `json:"multi_block,omitempty"`
	Key            string       `json:"key,omitempty"`
	Kernel         *KernelEntry `json:"kernel,omitempty"`
}

func kernelEntry(k xqa.Kernel) KernelEntry {
	return KernelEntry{
		Index:     k.Index,
		Func:      k.Descriptor.FuncName,
		Cubin:     k.Descriptor.CubinName(),
		SharedMem: k.SharedMem,
		Type:      k.Type.String(),
		Key:       k.Key.String(),
	}
}
