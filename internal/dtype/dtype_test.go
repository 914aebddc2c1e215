package dtype

import "testing"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	for d, name := range names {
		got, err := Parse(name)
		if err != nil {
			t.Fatalf("Parse(%q): %v", name, err)
		}
		if got != d {
			t.Fatalf("Parse(%q) = %v, want %v", name, got, d)
		}
	}
}

func TestParseAliases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want DataType
	}{
		{"half", FP16},
		{" BFloat16 ", BF16},
		{"fp8", E4M3},
		{"F32", FP32},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := Parse("complex64"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestSize(t *testing.T) {
	t.Parallel()
	if FP16.Size() != 2 || BF16.Size() != 2 || FP32.Size() != 4 || E4M3.Size() != 1 || INT8.Size() != 1 {
		t.Fatalf("unexpected sizes")
	}
}

func TestUnmarshalText(t *testing.T) {
	t.Parallel()
	var d DataType
	if err := d.UnmarshalText([]byte("bf16")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d != BF16 {
		t.Fatalf("got %v, want bf16", d)
	}
	if err := d.UnmarshalText([]byte("nope")); err == nil {
		t.Fatalf("expected error")
	}
}
