package xqa

import (
	"fmt"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/dtype"
)

// Key is the normalized lookup key shared by catalog descriptors and runtime
// requests.
type Key struct {
	KVDataType       dtype.DataType
	HeadDim          int
	BeamWidth        int
	NumQHeadsOverKV  int
	MTileSize        int
	TokensPerPage    int
	Paged            bool
	MultiQueryTokens bool
}

func (k Key) String() string {
	return fmt.Sprintf("kvt=%s d=%d beam=%d nqpkv=%d m=%d tpp=%d paged=%t multi=%t",
		k.KVDataType, k.HeadDim, k.BeamWidth, k.NumQHeadsOverKV, k.MTileSize, k.TokensPerPage, k.Paged, k.MultiQueryTokens)
}

// makeKey is the single normalization both sides of the lookup go through:
// the head ratio is zero in multi-token mode and the page size is zero for
// unpaged caches.
func makeKey(kv dtype.DataType, headDim, beam, ratio, mTile, tokensPerPage int, paged, multi bool) Key {
	if multi {
		ratio = 0
	}
	if !paged {
		tokensPerPage = 0
	}
	return Key{
		KVDataType:       kv,
		HeadDim:          headDim,
		BeamWidth:        beam,
		NumQHeadsOverKV:  ratio,
		MTileSize:        mTile,
		TokensPerPage:    tokensPerPage,
		Paged:            paged,
		MultiQueryTokens: multi,
	}
}

func descriptorKey(d catalog.Descriptor) Key {
	return makeKey(d.KVDataType, d.HeadDim, d.BeamWidth, d.NumQHeadsOverKV, d.MTileSize, d.TokensPerPage, d.Paged, d.MultiQueryTokens)
}

// tileSize returns the row tile a request needs. Multi-token kernels come in
// 16- and 32-row tiles chosen by query length; single-token kernels tile by
// the head ratio.
func tileSize(p *Params, ratio int) int {
	if !p.MultiQueryTokens {
		return ratio
	}
	if p.GenerationInputLength <= 16 {
		return 16
	}
	return 32
}

// headRatio validates and returns NumQHeads / NumKVHeads.
func headRatio(p *Params) (int, error) {
	if p.NumKVHeads <= 0 || p.NumQHeads <= 0 {
		return 0, violation("head counts must be positive, got %d query and %d kv heads", p.NumQHeads, p.NumKVHeads)
	}
	if p.NumQHeads%p.NumKVHeads != 0 {
		return 0, violation("numQHeads (%d) should be a multiple of numKVHeads (%d)", p.NumQHeads, p.NumKVHeads)
	}
	return p.NumQHeads / p.NumKVHeads, nil
}

// requestKey derives the lookup key for a request.
func requestKey(p *Params) (Key, error) {
	ratio, err := headRatio(p)
	if err != nil {
		return Key{}, err
	}
	return makeKey(p.KVCacheDataType, p.HeadSize, p.BeamWidth, ratio, tileSize(p, ratio), p.TokensPerBlock, p.Paged, p.MultiQueryTokens), nil
}
