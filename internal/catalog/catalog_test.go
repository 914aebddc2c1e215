package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/dtype"
)

func TestDefaultTableShape(t *testing.T) {
	descs := Default()
	require.NotEmpty(t, descs)
	require.Same(t, &descs[0], &Default()[0], "table is built once")

	for _, d := range descs {
		require.Contains(t, []dtype.DataType{dtype.FP16, dtype.BF16}, d.DataType, d.String())
		require.Equal(t, d.TokensPerPage != 0, d.Paged, d.String())
		if d.MultiQueryTokens {
			require.Zero(t, d.NumQHeadsOverKV, d.String())
			require.Contains(t, []int{16, 32}, d.MTileSize, d.String())
		} else {
			require.Equal(t, d.NumQHeadsOverKV, d.MTileSize, d.String())
			require.Equal(t, SingleTokenFunc, d.FuncName)
		}
		if d.KVDataType == dtype.E4M3 {
			require.GreaterOrEqual(t, int(d.SM), int(SM89), d.String())
			require.Equal(t, 1, d.BeamWidth)
		}
		require.Equal(t, jitOnly(d.SM, d.KVDataType), d.Cubin == nil, d.String())
	}
}

func TestMultiTokenTilesHaveOwnCubin(t *testing.T) {
	var m16, m32 *Descriptor
	for _, d := range Filter(Default(), SM80, dtype.FP16) {
		if !d.MultiQueryTokens || d.KVDataType != dtype.FP16 || d.TokensPerPage != 64 {
			continue
		}
		if d.MTileSize == 16 {
			m16 = &d
		} else {
			m32 = &d
		}
	}
	require.NotNil(t, m16)
	require.NotNil(t, m32)
	require.NotSame(t, m16.Cubin, m32.Cubin)
	require.NotEqual(t, m16.CubinName(), m32.CubinName())
	require.Contains(t, m32.CubinName(), "_m_32_")
	require.NotEqual(t, m16.FuncName, m32.FuncName)
}

func TestCubinNamesAreUnique(t *testing.T) {
	seen := map[string]string{}
	for _, d := range Default() {
		if d.Cubin == nil {
			continue
		}
		prev, ok := seen[d.Cubin.Name]
		require.False(t, ok, "%s and %s share %s", prev, d.String(), d.Cubin.Name)
		seen[d.Cubin.Name] = d.String()
	}
}

func TestFilterAndCubins(t *testing.T) {
	descs := Filter(Default(), SM90, dtype.BF16)
	require.NotEmpty(t, descs)
	for _, d := range descs {
		require.Equal(t, SM90, d.SM)
		require.Equal(t, dtype.BF16, d.DataType)
	}
	cubins := Cubins(descs)
	names := make(map[string]bool)
	for _, c := range cubins {
		require.NotNil(t, c)
		require.False(t, names[c.Name], "duplicate cubin %s", c.Name)
		names[c.Name] = true
	}
	require.Less(t, len(cubins), len(descs))
}

func TestFromCapability(t *testing.T) {
	require.Equal(t, SM86, FromCapability(8, 6))
	require.Equal(t, "sm_90", FromCapability(9, 0).String())
	require.Equal(t, "hopper_warp_specialized", HopperWarpSpecialized.String())
}

func TestMapSource(t *testing.T) {
	src := MapSource{"a.cubin": []byte("payload")}
	b, err := src.Image(&Cubin{Name: "a.cubin"})
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), b)

	_, err = src.Image(&Cubin{Name: "b.cubin"})
	require.True(t, errors.Is(err, ErrImageNotFound))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k.cubin"), []byte("\x7fELFcubin"), 0o644))

	src := NewDirSource(dir)
	c := &Cubin{Name: "k.cubin"}
	b, err := src.Image(c)
	require.NoError(t, err)
	require.Equal(t, []byte("\x7fELFcubin"), b)

	again, err := src.Image(c)
	require.NoError(t, err)
	require.Same(t, &b[0], &again[0], "second lookup reuses the mapping")

	_, err = src.Image(&Cubin{Name: "missing.cubin"})
	require.True(t, errors.Is(err, ErrImageNotFound))

	require.NoError(t, src.Close())
}

func TestParseSM(t *testing.T) {
	for _, in := range []string{"sm_90", "SM90", "90", " sm_90 "} {
		sm, err := ParseSM(in)
		require.NoError(t, err, in)
		require.Equal(t, SM90, sm)
	}
	_, err := ParseSM("sm_75")
	require.Error(t, err)
	_, err = ParseSM("hopper")
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	all := Default()
	got, err := Select(all, "", "")
	require.NoError(t, err)
	require.Len(t, got, len(all))

	got, err = Select(all, "sm_89", "bf16")
	require.NoError(t, err)
	require.Equal(t, Filter(all, SM89, dtype.BF16), got)

	_, err = Select(all, "", "complex64")
	require.Error(t, err)
}
