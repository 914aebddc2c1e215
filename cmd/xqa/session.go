package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/backend"
	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/logger"
	"github.com/samcharles93/xqa/internal/xqa"
)

// setup loads the config file, overlays it under the flags and stores the
// configured logger in the returned context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cfg, err
	}
	applyConfig(cmd, cfg)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, cfg, err
	}
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Open(os.Stderr, logger.Format(logFormat), level)
	if err != nil {
		return ctx, cfg, err
	}
	return logger.WithContext(ctx, log), cfg, nil
}

// session is an opened device with its loader and dispatcher.
type session struct {
	backend *backend.Backend
	loader  *xqa.Loader
	disp    *xqa.Dispatcher
	descs   []catalog.Descriptor
}

func openSession(ctx context.Context, cfg Config) (*session, error) {
	log := logger.FromContext(ctx)

	opts, err := dispatchOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = log

	sm, err := catalog.ParseSM(simSM)
	if err != nil {
		return nil, err
	}
	descs := catalog.Default()
	b, err := backend.Open(driverName, backend.Config{
		Device:              int(deviceID),
		Descriptors:         descs,
		CubinDir:            cubinDir,
		SM:                  sm,
		MultiProcessorCount: int(simSMCount),
	})
	if err != nil {
		return nil, err
	}
	loader := xqa.NewLoader(descs, b.Images, opts)
	disp, err := xqa.NewDispatcher(b.Driver, loader, b.Preprocessor, b.Converter)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open dispatcher: %w", err)
	}
	log.Debug("device opened",
		"driver", b.Name, "device", disp.Device(), "sm", disp.SM().String(), "sms", disp.MultiProcessorCount())
	return &session{backend: b, loader: loader, disp: disp, descs: descs}, nil
}

func (s *session) Close() error {
	return errors.Join(s.loader.Shutdown(), s.backend.Close())
}
