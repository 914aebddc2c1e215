package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/qkv"
)

func TestCarveWorkspace(t *testing.T) {
	p := decodeParams(3, 2, 4)
	p.BeamWidth = 2
	p.TotalNumInputTokens = 6
	p.Rotary = qkv.Rotary{Dim: 64}
	p.Workspace = 0x10000

	ws := carveWorkspace(p)
	require.Equal(t, driver.DevicePtr(0x10000), ws.cuSeqLens)
	// 7 int32 offsets round up to one 128-byte line
	require.Equal(t, driver.DevicePtr(0x10000+128), ws.rotaryInvFreq)
	// 6 sequences * 32 floats = 768 bytes
	require.Equal(t, ws.rotaryInvFreq+768, ws.ioScratch)
	// fp16 * 128 * 8 heads * 6 tokens
	require.Equal(t, ws.ioScratch+12288, ws.scratch)

	for _, ptr := range []driver.DevicePtr{ws.cuSeqLens, ws.rotaryInvFreq, ws.ioScratch, ws.scratch} {
		require.Zero(t, uintptr(ptr)%workspaceAlign)
	}
	require.Equal(t, int(ws.scratch-p.Workspace), WorkspaceSize(p, 8))
}

func TestWorkspaceSizeGrowsWithMultiBlock(t *testing.T) {
	p := decodeParams(2, 4, 2)
	single := WorkspaceSize(p, 8)
	p.MultiBlockMode = true
	multi := WorkspaceSize(p, 8)
	require.Greater(t, multi, single)
	require.Greater(t, multi, WorkspaceSize(p, 4))
	require.Zero(t, multi%workspaceAlign)
	require.Equal(t, WorkspaceSize(p, DefaultMaxNbCtaPerKVHead), WorkspaceSize(p, 0))
}
