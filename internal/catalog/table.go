package catalog

import (
	"fmt"
	"sync"

	"github.com/samcharles93/xqa/internal/dtype"
)

// Entry point names inside the cubins.
const (
	SingleTokenFunc  = "kernel_mha"
	MultiTokenFunc16 = "kernel_mha_m16"
	MultiTokenFunc32 = "kernel_mha_m32"
)

var (
	buildTypes       = []dtype.DataType{dtype.FP16, dtype.BF16}
	buildHeadDims    = []int{64, 128, 256}
	buildHeadRatios  = []int{1, 2, 4, 8, 16, 32}
	buildPageSizes   = []int{0, 16, 32, 64, 128}
	multiTokenDims   = []int{128}
	multiTokenTiles  = []int{16, 32}
	defaultOnce      sync.Once
	defaultTableData []Descriptor
)

// Default returns the built-in descriptor table. The slice is shared and must
// not be modified.
func Default() []Descriptor {
	defaultOnce.Do(func() {
		defaultTableData = buildTable()
	})
	return defaultTableData
}

func kvTypesFor(sm SM, dt dtype.DataType) []dtype.DataType {
	kv := []dtype.DataType{dt, dtype.INT8}
	if sm >= SM89 {
		kv = append(kv, dtype.E4M3)
	}
	return kv
}

func beamsFor(kv dtype.DataType) []int {
	if kv == dtype.E4M3 {
		return []int{1}
	}
	return []int{1, 4}
}

// jitOnly reports configurations whose cubins are no longer shipped because
// runtime compilation covers them.
func jitOnly(sm SM, kv dtype.DataType) bool {
	return sm == SM90 && kv == dtype.INT8
}

func pagingSuffix(tpp int) string {
	if tpp == 0 {
		return ""
	}
	return fmt.Sprintf("_pagedKV_%d", tpp)
}

func buildTable() []Descriptor {
	var out []Descriptor
	for _, sm := range Archs {
		for _, dt := range buildTypes {
			for _, kv := range kvTypesFor(sm, dt) {
				for _, d := range buildHeadDims {
					for _, beam := range beamsFor(kv) {
						for _, ratio := range buildHeadRatios {
							for _, tpp := range buildPageSizes {
								var cubin *Cubin
								if !jitOnly(sm, kv) {
									cubin = &Cubin{Name: fmt.Sprintf("xqa_kernel_dt_%s_d_%d_beam_%d_kvt_%s%s_nqpkv_%d_m_%d_sm_%d.cubin",
										dt, d, beam, kv, pagingSuffix(tpp), ratio, ratio, int(sm))}
								}
								out = append(out, Descriptor{
									SM:              sm,
									DataType:        dt,
									KVDataType:      kv,
									HeadDim:         d,
									BeamWidth:       beam,
									NumQHeadsOverKV: ratio,
									MTileSize:       ratio,
									TokensPerPage:   tpp,
									Paged:           tpp != 0,
									FuncName:        SingleTokenFunc,
									Cubin:           cubin,
								})
							}
						}
					}
				}
				for _, d := range multiTokenDims {
					for _, tpp := range buildPageSizes {
						for _, m := range multiTokenTiles {
							// smemSize is a module global, so each tile size
							// ships in its own binary.
							var cubin *Cubin
							if !jitOnly(sm, kv) {
								cubin = &Cubin{Name: fmt.Sprintf("xqa_kernel_dt_%s_d_%d_beam_1_kvt_%s%s_nqpkv_0_m_%d_spec_dec_sm_%d.cubin",
									dt, d, kv, pagingSuffix(tpp), m, int(sm))}
							}
							fn := MultiTokenFunc16
							if m == 32 {
								fn = MultiTokenFunc32
							}
							out = append(out, Descriptor{
								SM:               sm,
								DataType:         dt,
								KVDataType:       kv,
								HeadDim:          d,
								BeamWidth:        1,
								NumQHeadsOverKV:  0,
								MTileSize:        m,
								TokensPerPage:    tpp,
								Paged:            tpp != 0,
								MultiQueryTokens: true,
								FuncName:         fn,
								Cubin:            cubin,
							})
						}
					}
				}
			}
		}
	}
	return out
}
