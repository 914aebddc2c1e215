package xqa

import "github.com/samcharles93/xqa/internal/driver"

const workspaceAlign = 128

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// workspace is the caller workspace split into the regions one call uses.
type workspace struct {
	cuSeqLens     driver.DevicePtr // int32 x (batchBeam+1)
	rotaryInvFreq driver.DevicePtr // float32 x batchBeam x rotaryDim/2
	ioScratch     driver.DevicePtr // activation x headSize x numQHeads x totalTokens
	scratch       driver.DevicePtr
}

func cuSeqLensBytes(p *Params) int {
	return 4 * (p.batchBeam() + 1)
}

func rotaryInvFreqBytes(p *Params) int {
	return 4 * p.batchBeam() * (p.Rotary.Dim / 2)
}

func ioScratchBytes(p *Params) int {
	return p.DataType.Size() * p.HeadSize * p.NumQHeads * p.TotalNumInputTokens
}

// scratchBytes covers the multi-block counters plus per-block partial
// outputs and softmax row statistics.
func scratchBytes(p *Params, maxNbCtaPerKVHead int) int {
	if !p.MultiBlockMode {
		return 0
	}
	counters := alignUp(4*p.BatchSize*p.NumKVHeads, workspaceAlign)
	rows := p.batchBeam() * p.NumQHeads * max(1, p.GenerationInputLength)
	partial := maxNbCtaPerKVHead * rows * (p.HeadSize*p.DataType.Size() + 2*4)
	return counters + alignUp(partial, workspaceAlign)
}

// WorkspaceSize returns the bytes a call with p needs at Params.Workspace.
func WorkspaceSize(p *Params, maxNbCtaPerKVHead int) int {
	if maxNbCtaPerKVHead <= 0 {
		maxNbCtaPerKVHead = DefaultMaxNbCtaPerKVHead
	}
	return alignUp(cuSeqLensBytes(p), workspaceAlign) +
		alignUp(rotaryInvFreqBytes(p), workspaceAlign) +
		alignUp(ioScratchBytes(p), workspaceAlign) +
		scratchBytes(p, maxNbCtaPerKVHead)
}

func carveWorkspace(p *Params) workspace {
	next := p.Workspace
	take := func(bytes int) driver.DevicePtr {
		at := next
		next += driver.DevicePtr(alignUp(bytes, workspaceAlign))
		return at
	}
	var ws workspace
	ws.cuSeqLens = take(cuSeqLensBytes(p))
	ws.rotaryInvFreq = take(rotaryInvFreqBytes(p))
	ws.ioScratch = take(ioScratchBytes(p))
	ws.scratch = next
	return ws
}
