// Package catalog is the static table of precompiled attention kernels. Each
// Descriptor names one entry point inside one cubin together with the
// configuration it was built for. The cubin bytes themselves are supplied by
// an ImageSource at load time.
package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/xqa/internal/dtype"
)

// SM is a GPU architecture class expressed as major*10+minor.
type SM int

const (
	SM80 SM = 80
	SM86 SM = 86
	SM89 SM = 89
	SM90 SM = 90
)

// FromCapability converts a compute capability to an SM.
func FromCapability(major, minor int) SM {
	return SM(major*10 + minor)
}

func (s SM) String() string {
	return fmt.Sprintf("sm_%d", int(s))
}

// Archs lists the architecture classes the table is built for.
var Archs = []SM{SM80, SM86, SM89, SM90}

// ParseSM accepts "sm_90", "sm90" or "90".
func ParseSM(s string) (SM, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "sm"), "_")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid sm %q", s)
	}
	sm := SM(n)
	if !slices.Contains(Archs, sm) {
		return 0, fmt.Errorf("unsupported sm %q", s)
	}
	return sm, nil
}

// KernelType is the argument-packing convention a cubin reports through its
// kernelType global.
type KernelType uint32

const (
	AmpereWarpSpecialized KernelType = 0
	HopperWarpSpecialized KernelType = 1
)

func (k KernelType) String() string {
	switch k {
	case AmpereWarpSpecialized:
		return "ampere_warp_specialized"
	case HopperWarpSpecialized:
		return "hopper_warp_specialized"
	default:
		return fmt.Sprintf("kernel_type(%d)", uint32(k))
	}
}

// Cubin references one precompiled binary. Descriptors that share a binary
// share the pointer, which is what module reuse keys on.
type Cubin struct {
	Name string
}

// Descriptor describes one precompiled kernel entry point.
type Descriptor struct {
	SM               SM             `json:"sm"`
	DataType         dtype.DataType `json:"data_type"`
	KVDataType       dtype.DataType `json:"kv_data_type"`
	HeadDim          int            `json:"head_dim"`
	BeamWidth        int            `json:"beam_width"`
	NumQHeadsOverKV  int            `json:"num_q_heads_over_kv"`
	MTileSize        int            `json:"m_tile_size"`
	TokensPerPage    int            `json:"tokens_per_page"`
	Paged            bool           `json:"paged"`
	MultiQueryTokens bool           `json:"multi_query_tokens"`
	FuncName         string         `json:"func_name"`
	// Cubin is nil for configurations served by runtime compilation instead.
	Cubin *Cubin `json:"-"`
}

// CubinName returns the referenced binary's name, or "" when there is none.
func (d Descriptor) CubinName() string {
	if d.Cubin == nil {
		return ""
	}
	return d.Cubin.Name
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s dt=%s kvt=%s d=%d beam=%d nqpkv=%d m=%d tpp=%d paged=%t multi=%t %s",
		d.SM, d.DataType, d.KVDataType, d.HeadDim, d.BeamWidth, d.NumQHeadsOverKV,
		d.MTileSize, d.TokensPerPage, d.Paged, d.MultiQueryTokens, d.FuncName)
}

// Filter returns the descriptors built for sm and activation type dt.
func Filter(descs []Descriptor, sm SM, dt dtype.DataType) []Descriptor {
	var out []Descriptor
	for _, d := range descs {
		if d.SM == sm && d.DataType == dt {
			out = append(out, d)
		}
	}
	return out
}

// Select filters descs by architecture and activation type names. An empty
// name matches every descriptor.
func Select(descs []Descriptor, smName, dtypeName string) ([]Descriptor, error) {
	var (
		sm SM
		dt dtype.DataType
	)
	if smName != "" {
		parsed, err := ParseSM(smName)
		if err != nil {
			return nil, err
		}
		sm = parsed
	}
	if dtypeName != "" {
		parsed, err := dtype.Parse(dtypeName)
		if err != nil {
			return nil, err
		}
		dt = parsed
	}
	var out []Descriptor
	for _, d := range descs {
		if (smName == "" || d.SM == sm) && (dtypeName == "" || d.DataType == dt) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Cubins returns the distinct non-nil binaries referenced by descs, in
// first-seen order.
func Cubins(descs []Descriptor) []*Cubin {
	seen := make(map[*Cubin]bool)
	var out []*Cubin
	for _, d := range descs {
		if d.Cubin == nil || seen[d.Cubin] {
			continue
		}
		seen[d.Cubin] = true
		out = append(out, d.Cubin)
	}
	return out
}
