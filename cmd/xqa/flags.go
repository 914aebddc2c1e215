package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xqa/internal/xqa"
)

var (
	configFile string
	driverName string
	deviceID   int64
	cubinDir   string
	simSM      string
	simSMCount int64
	logLevel   string
	logFormat  string
	debug      bool
)

func driverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "driver",
			Usage:       "device driver (auto, sim, cuda)",
			Value:       "auto",
			Destination: &driverName,
		},
		&cli.Int64Flag{
			Name:        "device",
			Aliases:     []string{"d"},
			Usage:       "device ordinal",
			Destination: &deviceID,
		},
		&cli.StringFlag{
			Name:        "cubin-dir",
			Usage:       "directory holding cubin images (cuda driver)",
			Sources:     cli.EnvVars(xqa.EnvCubinDir),
			Destination: &cubinDir,
		},
		&cli.StringFlag{
			Name:        "sim-sm",
			Usage:       "architecture class of the simulated device",
			Value:       "sm_80",
			Destination: &simSM,
		},
		&cli.Int64Flag{
			Name:        "sim-sm-count",
			Usage:       "multiprocessor count of the simulated device",
			Value:       108,
			Destination: &simSMCount,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default ~/.config/xqa/config.yaml)",
			Destination: &configFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func commonFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(driverFlags(), loggingFlags()...)
	return append(flags, extra...)
}
