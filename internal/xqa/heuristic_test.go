package xqa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMayOutperformGeneric(t *testing.T) {
	p := decodeParams(4, 2, 8)

	t.Run("boundary is inclusive", func(t *testing.T) {
		// 2 heads * 4 batch * 4.0 = 32
		require.True(t, mayOutperformGeneric(p, 32, false))
		require.False(t, mayOutperformGeneric(p, 33, false))
	})

	t.Run("force", func(t *testing.T) {
		require.True(t, mayOutperformGeneric(p, 10000, true))
	})

	t.Run("multi-token always", func(t *testing.T) {
		mt := *p
		mt.MultiQueryTokens = true
		require.True(t, mayOutperformGeneric(&mt, 10000, false))
	})

	t.Run("multi-block widens the grid", func(t *testing.T) {
		mb := *p
		mb.MultiBlockMode = true
		mb.Timestep = 2048
		// 2 * 4 * (2048/512) * 4.0 = 128
		require.True(t, mayOutperformGeneric(&mb, 128, false))
		require.False(t, mayOutperformGeneric(&mb, 129, false))

		mb.Timestep = 100
		require.Equal(t, 1, multiBlockFactor(&mb))
	})

	t.Run("timestep ignored without multi-block", func(t *testing.T) {
		long := *p
		long.Timestep = 1 << 20
		require.Equal(t, 1, multiBlockFactor(&long))
	})
}

func TestMultiBlockCount(t *testing.T) {
	opts := DefaultOptions()
	p := decodeParams(1, 8, 4)

	cases := []struct {
		name     string
		batch    int
		timestep int
		want     int
	}{
		{"short history", 1, 100, 1},
		{"capped by max", 1, 4096, 8},
		{"reduced by waves", 16, 4096, 6},
		{"collapses to one", 64, 4096, 1},
		{"very long history", 1, 100000, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q := *p
			q.BatchSize = c.batch
			q.Timestep = c.timestep
			require.Equal(t, c.want, multiBlockCount(&q, c.batch, 108, opts))
		})
	}

	t.Run("override wins", func(t *testing.T) {
		o := opts
		o.NbCtaPerKVHead = 3
		require.Equal(t, 3, multiBlockCount(p, 64, 108, o))
	})

	t.Run("custom cap", func(t *testing.T) {
		o := opts
		o.MaxNbCtaPerKVHead = 2
		q := *p
		q.Timestep = 4096
		require.Equal(t, 2, multiBlockCount(&q, 1, 108, o))
	})
}
