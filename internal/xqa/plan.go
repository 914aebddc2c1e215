package xqa

import "github.com/pkg/errors"

// Plan is what a call with given Params would launch, without touching any
// device buffers.
type Plan struct {
	Key            Key
	Kernel         Kernel
	MultiBlock     int
	WorkspaceBytes int
	// UseXQA is the combined support and heuristic decision.
	UseXQA bool
}

// Plan resolves the kernel and launch shape for p. It fails with
// ErrKernelNotFound when no precompiled kernel serves p.
func (d *Dispatcher) Plan(p *Params) (Plan, error) {
	if _, err := headRatio(p); err != nil {
		return Plan{}, err
	}
	if !dispatchable(p.DataType) {
		return Plan{}, violation("activation type %s is not dispatchable", p.DataType)
	}
	kl, err := d.loader.KernelList(d.drv, p.DataType)
	if err != nil {
		return Plan{}, err
	}
	key, err := requestKey(p)
	if err != nil {
		return Plan{}, err
	}
	kern, ok := kl.Lookup(key)
	if !ok {
		return Plan{}, errors.Wrapf(ErrKernelNotFound, "%s on %s", key, d.sm)
	}
	multiBlock := 1
	if p.MultiBlockMode {
		multiBlock = multiBlockCount(p, p.BatchSize, d.smCount, d.loader.opts)
	}
	return Plan{
		Key:            key,
		Kernel:         kern,
		MultiBlock:     multiBlock,
		WorkspaceBytes: d.WorkspaceSize(p),
		UseXQA:         d.MayOutperformGeneric(p, d.smCount),
	}, nil
}
