package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/backend"
	"github.com/samcharles93/xqa/internal/driver"
	"github.com/samcharles93/xqa/internal/driver/sim"
	"github.com/samcharles93/xqa/internal/kvcache"
	"github.com/samcharles93/xqa/internal/xqa"
)

func simulateCmd() *cli.Command {
	var (
		requestPath string
		fp8Out      bool
		stream      int64
	)
	return &cli.Command{
		Name:  "simulate",
		Usage: "Dispatch a request on the simulated device and print the recorded launch",
		Flags: commonFlags(
			&cli.StringFlag{
				Name:        "request",
				Aliases:     []string{"r"},
				Usage:       "request shape file (.yaml or .json)",
				Required:    true,
				Destination: &requestPath,
			},
			&cli.BoolFlag{
				Name:        "fp8-out",
				Usage:       "request fp8 output through the output converter",
				Destination: &fp8Out,
			},
			&cli.Int64Flag{
				Name:        "stream",
				Usage:       "stream handle to launch on",
				Destination: &stream,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.IsSet("driver") {
				driverName = backend.Sim
			}
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			p, err := readRequest(requestPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			s, err := openSession(ctx, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = s.Close() }()

			if err := simulate(stdout(cmd), s, p, fp8Out, driver.Stream(stream)); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

// simulate backs p with simulated device memory, dispatches it and prints
// what the driver recorded.
func simulate(w io.Writer, s *session, p *xqa.Params, fp8Out bool, stream driver.Stream) error {
	drv, ok := s.backend.Driver.(*sim.Driver)
	if !ok {
		return fmt.Errorf("simulate needs the sim driver, have %s", s.backend.Name)
	}
	allocateRequest(drv, p, s.disp.WorkspaceSize(p), fp8Out)

	var err error
	if p.Paged {
		err = s.disp.RunWithBlockArray(p, pagedCache(drv, p), stream)
	} else {
		err = s.disp.RunWithLinearBuffer(p, linearCache(drv, p), stream)
	}
	if err != nil {
		return err
	}

	for _, l := range drv.Launches() {
		_, _ = fmt.Fprintf(w, "launch %s\n", l.Name)
		_, _ = fmt.Fprintf(w, "  grid:       (%d, %d, %d)\n", l.Grid.X, l.Grid.Y, l.Grid.Z)
		_, _ = fmt.Fprintf(w, "  block:      (%d, %d, %d)\n", l.Block.X, l.Block.Y, l.Block.Z)
		_, _ = fmt.Fprintf(w, "  shared mem: %s\n", humanize.IBytes(uint64(l.SharedMem)))
		_, _ = fmt.Fprintf(w, "  stream:     %d\n", l.Stream)
		_, _ = fmt.Fprintf(w, "  args:       %d\n", len(l.Args))
		for i, a := range l.Args {
			_, _ = fmt.Fprintf(w, "    [%d] %3d bytes %s\n", i, len(a), argSummary(a))
		}
	}
	for _, m := range drv.Memsets() {
		_, _ = fmt.Fprintf(w, "memset %#x = %d x %d\n", uintptr(m.Dst), m.Value, m.Count)
	}
	for _, tm := range drv.TensorMaps() {
		_, _ = fmt.Fprintf(w, "tensor map rank %d dims %v box %v swizzle %d\n", tm.Rank(), tm.GlobalDim, tm.BoxDim, tm.Swizzle)
	}
	if c, ok := s.backend.Converter.(*sim.Converter); ok {
		for _, call := range c.Calls() {
			_, _ = fmt.Fprintf(w, "convert %d %s values to e4m3\n", call.Count, call.SrcType)
		}
	}
	return nil
}

func argSummary(a driver.Arg) string {
	switch len(a) {
	case 4:
		return fmt.Sprintf("u32 %d", binary.LittleEndian.Uint32(a))
	case 8:
		return fmt.Sprintf("ptr %#x", binary.LittleEndian.Uint64(a))
	default:
		return "struct"
	}
}

// allocateRequest gives every device buffer of p simulated memory.
func allocateRequest(drv *sim.Driver, p *xqa.Params, workspace int, fp8Out bool) {
	elem := p.DataType.Size()
	batchBeam := p.BatchSize * p.BeamWidth
	tokens := batchBeam * p.GenerationInputLength

	p.Workspace = drv.Alloc(workspace)
	p.Semaphores = drv.Alloc(4 * p.BatchSize * p.NumKVHeads)
	p.QKV = drv.Alloc(elem * (p.NumQHeads + 2*p.NumKVHeads) * p.HeadSize * tokens)
	p.Output = drv.Alloc(elem * p.NumQHeads * p.HeadSize * p.TotalNumInputTokens)
	p.KVScaleQuantOrig = drv.Alloc(4)
	p.KVScaleOrigQuant = drv.Alloc(4)
	_ = drv.Write(p.KVScaleQuantOrig, f32(1))
	_ = drv.Write(p.KVScaleOrigQuant, f32(1))

	p.SequenceLengths = drv.Alloc(4 * batchBeam)
	lens := make([]byte, 4*batchBeam)
	for i := range batchBeam {
		binary.LittleEndian.PutUint32(lens[4*i:], uint32(p.Timestep))
	}
	_ = drv.Write(p.SequenceLengths, lens)

	if p.BeamWidth > 1 {
		p.CacheIndirection = drv.Alloc(4 * batchBeam * max(p.MaxAttentionWindow, 1))
		p.ContextLengths = drv.Alloc(4 * batchBeam)
	}
	if p.MultiQueryTokens {
		words := (p.GenerationInputLength + 31) / 32
		p.SpecDecodingPackedMask = drv.Alloc(4 * tokens * words)
		p.SpecDecodingPositionOffsets = drv.Alloc(4 * tokens)
	}
	if fp8Out {
		p.FP8OutScale = drv.Alloc(4)
		_ = drv.Write(p.FP8OutScale, f32(1))
	}
}

func linearCache(drv *sim.Driver, p *xqa.Params) *kvcache.LinearBuffer {
	window := max(p.MaxAttentionWindow, 1)
	bytes := 2 * p.BatchSize * p.BeamWidth * p.NumKVHeads * window * p.HeadSize * p.KVCacheDataType.Size()
	return &kvcache.LinearBuffer{Data: drv.Alloc(bytes), MaxSeqLen: window}
}

func pagedCache(drv *sim.Driver, p *xqa.Params) *kvcache.BlockArray {
	blocks := (max(p.MaxAttentionWindow, 1) + p.TokensPerBlock - 1) / p.TokensPerBlock
	seqs := p.BatchSize * p.BeamWidth
	pool := 2 * seqs * blocks * p.NumKVHeads * p.TokensPerBlock * p.HeadSize * p.KVCacheDataType.Size()
	return &kvcache.BlockArray{
		PrimaryPool:     drv.Alloc(pool),
		BlockOffsets:    drv.Alloc(4 * 2 * seqs * blocks),
		TokensPerBlock:  p.TokensPerBlock,
		MaxBlocksPerSeq: blocks,
	}
}

func f32(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}
