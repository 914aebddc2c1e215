package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/dtype"
	"github.com/samcharles93/xqa/internal/logger"
)

func kernelsCmd() *cli.Command {
	var dtypes []string
	return &cli.Command{
		Name:  "kernels",
		Usage: "Load the kernel registry on a device and list the loaded entry points",
		Flags: commonFlags(
			&cli.StringSliceFlag{
				Name:        "dtype",
				Usage:       "activation types to load",
				Value:       []string{"fp16", "bf16"},
				Destination: &dtypes,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			s, err := openSession(ctx, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = s.Close() }()

			log := logger.FromContext(ctx)
			w := stdout(cmd)
			for _, name := range dtypes {
				dt, err := dtype.Parse(name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				kl, err := s.loader.KernelList(s.backend.Driver, dt)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: load %s kernels: %v", dt, err), 1)
				}
				kernels := kl.Kernels()
				if len(kernels) == 0 {
					log.Info("no kernels", "dtype", dt.String(), "sm", kl.SM().String())
					continue
				}
				_, _ = fmt.Fprintf(w, "%s on %s (%d modules):\n\n", dt, kl.SM(), kl.ModuleCount())
				for _, k := range kernels {
					_, _ = fmt.Fprintf(w, "  %-14s %9s  %-22s %s\n",
						k.Descriptor.FuncName, humanize.IBytes(uint64(k.SharedMem)), k.Type, k.Key)
				}
				_, _ = fmt.Fprintf(w, "\n%d kernel(s) loaded\n\n", len(kernels))
			}
			return nil
		},
	}
}
