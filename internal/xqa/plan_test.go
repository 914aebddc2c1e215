package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/dtype"
)

func TestPlanSingleToken(t *testing.T) {
	f := newFixture(t, catalog.SM80, 108, DefaultOptions())
	p := decodeParams(4, 2, 8)
	p.MultiBlockMode = true
	p.Timestep = 4096

	plan, err := f.disp.Plan(p)
	require.NoError(t, err)
	require.Equal(t, 8, plan.Key.NumQHeadsOverKV)
	require.Equal(t, catalog.SingleTokenFunc, plan.Kernel.Descriptor.FuncName)
	require.Equal(t, 8, plan.MultiBlock)
	require.Equal(t, f.disp.WorkspaceSize(p), plan.WorkspaceBytes)
	// 2 kv heads * 4 batch * 8 blocks * 4.0 = 256 >= 108 SMs
	require.True(t, plan.UseXQA)
	require.Empty(t, f.drv.Launches())

	wide := newFixture(t, catalog.SM80, 300, DefaultOptions())
	plan, err = wide.disp.Plan(p)
	require.NoError(t, err)
	require.Equal(t, 8, plan.MultiBlock)
	// 256 < 300 SMs
	require.False(t, plan.UseXQA)
}

func TestPlanNotFound(t *testing.T) {
	f := newFixture(t, catalog.SM80, 108, DefaultOptions())
	p := decodeParams(1, 1, 8)
	p.HeadSize = 96

	_, err := f.disp.Plan(p)
	require.ErrorIs(t, err, ErrKernelNotFound)
}

func TestPlanRejectsBadRequests(t *testing.T) {
	f := newFixture(t, catalog.SM80, 108, DefaultOptions())
	p := decodeParams(1, 3, 1)
	p.NumQHeads = 4
	_, err := f.disp.Plan(p)
	require.ErrorIs(t, err, ErrConfigViolation)

	p = decodeParams(1, 1, 1)
	p.DataType = dtype.FP32
	_, err = f.disp.Plan(p)
	require.ErrorIs(t, err, ErrConfigViolation)
}
