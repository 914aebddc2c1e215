package xqa

import "math"

const (
	// minHistoryTokensPerBlock is the history one multi-block CTA covers.
	minHistoryTokensPerBlock = 512
	// enableMinBlockFactor scales the launched block count against the SM
	// count; below that occupancy the generic kernel wins.
	enableMinBlockFactor = 4.0
	// targetWaveFactor is the number of waves multi-block mode aims for.
	targetWaveFactor = 8.0
)

// multiBlockFactor is the per-head block multiplier used by the heuristic.
func multiBlockFactor(p *Params) int {
	if !p.MultiBlockMode {
		return 1
	}
	return max(1, p.Timestep/minHistoryTokensPerBlock)
}

// mayOutperformGeneric reports whether the launched grid keeps enough of the
// device busy to beat the generic kernel.
func mayOutperformGeneric(p *Params, smCount int, force bool) bool {
	if force || p.MultiQueryTokens {
		return true
	}
	blocks := p.NumKVHeads * p.BatchSize * multiBlockFactor(p)
	return float64(blocks)*enableMinBlockFactor >= float64(smCount)
}

// multiBlockCount picks the CTAs per KV head for multi-block launches.
func multiBlockCount(p *Params, batchSize, smCount int, o Options) int {
	if o.NbCtaPerKVHead > 0 {
		return o.NbCtaPerKVHead
	}
	count := max(1, p.Timestep/minHistoryTokensPerBlock)
	if smCount > 0 {
		waves := float64(batchSize*p.NumKVHeads*count) / float64(smCount)
		if adj := waves / targetWaveFactor; adj > 1 {
			count = int(math.Floor(float64(count) / adj))
		}
	}
	return min(max(count, 1), o.MaxNbCtaPerKVHead)
}
