package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillDefaults(t *testing.T) {
	p := &Params{BatchSize: 3, Timestep: 700}
	p.FillDefaults()
	require.Equal(t, 1, p.BeamWidth)
	require.Equal(t, 1, p.GenerationInputLength)
	require.Equal(t, 3, p.TotalNumInputTokens)
	require.Equal(t, 700, p.MaxAttentionWindow)

	p = &Params{BatchSize: 2, BeamWidth: 4, GenerationInputLength: 5, TotalNumInputTokens: 11, MaxAttentionWindow: 64}
	p.FillDefaults()
	require.Equal(t, 11, p.TotalNumInputTokens)
	require.Equal(t, 64, p.MaxAttentionWindow)
}
