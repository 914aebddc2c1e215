package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/dtype"
)

// paramsFor builds a request that should resolve to d.
func paramsFor(d catalog.Descriptor) *Params {
	p := &Params{
		DataType:         d.DataType,
		KVCacheDataType:  d.KVDataType,
		HeadSize:         d.HeadDim,
		BeamWidth:        d.BeamWidth,
		BatchSize:        2,
		Paged:            d.Paged,
		TokensPerBlock:   d.TokensPerPage,
		MultiQueryTokens: d.MultiQueryTokens,
	}
	if d.MultiQueryTokens {
		p.NumKVHeads, p.NumQHeads = 2, 16
		p.GenerationInputLength = 16
		if d.MTileSize == 32 {
			p.GenerationInputLength = 17
		}
	} else {
		p.NumKVHeads = 4
		p.NumQHeads = 4 * d.NumQHeadsOverKV
		p.GenerationInputLength = 1
	}
	return p
}

func TestEveryDescriptorKeyMatchesRequestKey(t *testing.T) {
	for _, d := range catalog.Default() {
		got, err := requestKey(paramsFor(d))
		require.NoError(t, err, d.String())
		require.Equal(t, descriptorKey(d), got, d.String())
	}
}

func TestMultiTokenKeyHasZeroRatio(t *testing.T) {
	p := decodeParams(1, 2, 8)
	p.MultiQueryTokens = true
	p.GenerationInputLength = 4
	k, err := requestKey(p)
	require.NoError(t, err)
	require.Zero(t, k.NumQHeadsOverKV)
	require.Equal(t, 16, k.MTileSize)
}

func TestUnpagedKeyDropsPageSize(t *testing.T) {
	p := decodeParams(1, 2, 8)
	p.TokensPerBlock = 64
	k, err := requestKey(p)
	require.NoError(t, err)
	require.Zero(t, k.TokensPerPage)

	p.Paged = true
	k, err = requestKey(p)
	require.NoError(t, err)
	require.Equal(t, 64, k.TokensPerPage)
}

func TestTileSize(t *testing.T) {
	p := &Params{MultiQueryTokens: true}
	for qlen, want := range map[int]int{1: 16, 16: 16, 17: 32, 64: 32} {
		p.GenerationInputLength = qlen
		require.Equal(t, want, tileSize(p, 8), "qlen %d", qlen)
	}
	p.MultiQueryTokens = false
	p.GenerationInputLength = 64
	require.Equal(t, 8, tileSize(p, 8))
}

func TestRequestKeyRejectsIndivisibleHeads(t *testing.T) {
	p := decodeParams(1, 3, 1)
	p.NumQHeads = 8
	_, err := requestKey(p)
	require.ErrorIs(t, err, ErrConfigViolation)

	p.NumKVHeads = 0
	_, err = requestKey(p)
	require.ErrorIs(t, err, ErrConfigViolation)
}

func TestKeyString(t *testing.T) {
	k := makeKey(dtype.E4M3, 128, 1, 8, 8, 64, true, false)
	require.Equal(t, "kvt=e4m3 d=128 beam=1 nqpkv=8 m=8 tpp=64 paged=true multi=false", k.String())
}
