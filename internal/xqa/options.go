package xqa

import (
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/samcharles93/xqa/internal/logger"
)

// Environment overrides.
const (
	// EnvForce forces the specialized kernels whenever a configuration is
	// supported, skipping the occupancy heuristic.
	EnvForce = "XQA_FORCE"
	// EnvNbCtaPerKVHead fixes the multi-block count.
	EnvNbCtaPerKVHead = "XQA_NB_CTA_PER_KV_HEAD"
	// EnvMaxNbCtaPerKVHead caps the computed multi-block count.
	EnvMaxNbCtaPerKVHead = "XQA_MAX_NB_CTA_PER_KV_HEAD"
	// EnvCubinDir points at a directory of cubin images.
	EnvCubinDir = "XQA_CUBIN_DIR"
)

const (
	DefaultMaxNbCtaPerKVHead = 8
	DefaultMaxDevices        = 32
)

// Options tunes the loader and dispatcher.
type Options struct {
	ForceXQA bool
	// NbCtaPerKVHead overrides the computed multi-block count when positive.
	NbCtaPerKVHead    int
	MaxNbCtaPerKVHead int
	MaxDevices        int
	Logger            logger.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxNbCtaPerKVHead: DefaultMaxNbCtaPerKVHead,
		MaxDevices:        DefaultMaxDevices,
		Logger:            logger.Discard(),
	}
}

func (o Options) withDefaults() Options {
	if o.MaxNbCtaPerKVHead <= 0 {
		o.MaxNbCtaPerKVHead = DefaultMaxNbCtaPerKVHead
	}
	if o.MaxDevices <= 0 {
		o.MaxDevices = DefaultMaxDevices
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

// ApplyEnv overlays the XQA_* environment variables onto o.
func (o Options) ApplyEnv() (Options, error) {
	if v, ok := os.LookupEnv(EnvForce); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return o, errors.Wrapf(err, "parse %s", EnvForce)
		}
		o.ForceXQA = b
	}
	for _, e := range []struct {
		name string
		dst  *int
	}{
		{EnvNbCtaPerKVHead, &o.NbCtaPerKVHead},
		{EnvMaxNbCtaPerKVHead, &o.MaxNbCtaPerKVHead},
	} {
		v, ok := os.LookupEnv(e.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return o, errors.Wrapf(err, "parse %s", e.name)
		}
		if n < 0 {
			return o, errors.Errorf("%s must not be negative, got %d", e.name, n)
		}
		*e.dst = n
	}
	return o, nil
}
