package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/xqa/internal/xqa"
)

// readRequest loads request shape fields from a JSON or YAML file, chosen by
// extension, and fills the optional ones.
func readRequest(path string) (*xqa.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var p xqa.Params
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	if p.HeadSize <= 0 || p.BatchSize <= 0 {
		return nil, fmt.Errorf("request %s: head_size and batch_size must be positive", path)
	}
	p.FillDefaults()
	return &p, nil
}
