package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/xqa/internal/dtype"
)

const decodeYAML = `data_type: fp16
kv_cache_data_type: fp16
head_size: 128
num_q_heads: 16
num_kv_heads: 2
batch_size: 4
timestep: 100
`

func TestReadRequest(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "decode.yaml")
		writeFile(t, path, decodeYAML)
		p, err := readRequest(path)
		if err != nil {
			t.Fatalf("readRequest returned error: %v", err)
		}
		if p.DataType != dtype.FP16 || p.HeadSize != 128 || p.NumQHeads != 16 {
			t.Fatalf("unexpected params: %+v", p)
		}
		if p.BeamWidth != 1 || p.GenerationInputLength != 1 || p.TotalNumInputTokens != 4 {
			t.Fatalf("defaults not filled: %+v", p)
		}
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "decode.json")
		writeFile(t, path, `{"data_type":"bf16","kv_cache_data_type":"int8","head_size":64,"num_q_heads":8,"num_kv_heads":8,"batch_size":2,"beam_width":4}`)
		p, err := readRequest(path)
		if err != nil {
			t.Fatalf("readRequest returned error: %v", err)
		}
		if p.DataType != dtype.BF16 || p.KVCacheDataType != dtype.INT8 || p.TotalNumInputTokens != 8 {
			t.Fatalf("unexpected params: %+v", p)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		writeFile(t, path, decodeYAML+"bogus: 1\n")
		if _, err := readRequest(path); err == nil || !strings.Contains(err.Error(), "bogus") {
			t.Fatalf("expected unknown field error, got %v", err)
		}
	})

	t.Run("missing shape", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		writeFile(t, path, `{"data_type":"fp16"}`)
		if _, err := readRequest(path); err == nil {
			t.Fatalf("expected an error for a request without a shape")
		}
	})
}
