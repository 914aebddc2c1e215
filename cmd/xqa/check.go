package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/xqa"
)

func checkCmd() *cli.Command {
	var requestPath string
	return &cli.Command{
		Name:  "check",
		Usage: "Report whether a request would run on a precompiled kernel",
		Flags: commonFlags(
			&cli.StringFlag{
				Name:        "request",
				Aliases:     []string{"r"},
				Usage:       "request shape file (.yaml or .json)",
				Required:    true,
				Destination: &requestPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
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

			return report(cmd, s.disp, p)
		},
	}
}

func report(cmd *cli.Command, disp *xqa.Dispatcher, p *xqa.Params) error {
	w := stdout(cmd)
	supported, err := disp.IsConfigurationSupported(p)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "device:      %d (%s, %d SMs)\n", disp.Device(), disp.SM(), disp.MultiProcessorCount())
	_, _ = fmt.Fprintf(w, "supported:   %t\n", supported)
	_, _ = fmt.Fprintf(w, "workspace:   %s\n", humanize.IBytes(uint64(disp.WorkspaceSize(p))))
	if !supported {
		return nil
	}
	plan, err := disp.Plan(p)
	if errors.Is(err, xqa.ErrKernelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "use xqa:     %t\n", plan.UseXQA)
	_, _ = fmt.Fprintf(w, "key:         %s\n", plan.Key)
	_, _ = fmt.Fprintf(w, "kernel:      %s in %s (%s)\n", plan.Kernel.Descriptor.FuncName, plan.Kernel.Descriptor.CubinName(), plan.Kernel.Type)
	_, _ = fmt.Fprintf(w, "shared mem:  %s\n", humanize.IBytes(uint64(plan.Kernel.SharedMem)))
	_, _ = fmt.Fprintf(w, "multi-block: %d\n", plan.MultiBlock)
	return nil
}
