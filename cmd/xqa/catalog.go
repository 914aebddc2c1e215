package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/api"
	"github.com/samcharles93/xqa/internal/catalog"
)

func catalogCmd() *cli.Command {
	var (
		dtypeName string
		smName    string
		asJSON    bool
	)
	return &cli.Command{
		Name:    "catalog",
		Aliases: []string{"ls"},
		Usage:   "List the compiled-in kernel descriptors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "only descriptors for this activation type (fp16, bf16)",
				Destination: &dtypeName,
			},
			&cli.StringFlag{
				Name:        "sm",
				Usage:       "only descriptors for this architecture class (sm_80, sm_86, sm_89, sm_90)",
				Destination: &smName,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			descs, err := catalog.Select(catalog.Default(), smName, dtypeName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			w := stdout(cmd)
			if asJSON {
				entries := make([]api.CatalogEntry, 0, len(descs))
				for _, d := range descs {
					entries = append(entries, api.CatalogEntry{Descriptor: d, Cubin: d.CubinName()})
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			for _, d := range descs {
				cubin := d.CubinName()
				if cubin == "" {
					cubin = "(runtime compiled)"
				}
				_, _ = fmt.Fprintf(w, "%-6s %-4s %-4s d=%-3d beam=%d nqpkv=%-2d m=%-2d tpp=%-3d %-14s %s\n",
					d.SM, d.DataType, d.KVDataType, d.HeadDim, d.BeamWidth, d.NumQHeadsOverKV,
					d.MTileSize, d.TokensPerPage, d.FuncName, cubin)
			}
			_, _ = fmt.Fprintf(w, "\n%d descriptor(s), %d cubin(s)\n", len(descs), len(catalog.Cubins(descs)))
			return nil
		},
	}
}
