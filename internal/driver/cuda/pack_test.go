package cuda

import (
	"testing"

	"github.com/samcharles93/xqa/internal/driver"
)

func TestPackArgsOffsets(t *testing.T) {
	t.Parallel()
	tm := make(driver.Arg, 128)
	tm[0] = 0xAB
	args := []driver.Arg{
		{1, 0, 0, 0},
		{2, 0, 0, 0, 0, 0, 0, 0},
		tm,
		{3, 0, 0, 0},
		nil,
	}
	blob, offsets := packArgs(args)

	want := []int64{0, 8, 64, 192, -1}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offsets[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
	if len(blob) != 196 {
		t.Fatalf("blob len = %d, want 196", len(blob))
	}
	if blob[0] != 1 || blob[8] != 2 || blob[64] != 0xAB || blob[192] != 3 {
		t.Fatalf("argument bytes not copied to their offsets")
	}
}

func TestPackArgsEmpty(t *testing.T) {
	t.Parallel()
	blob, offsets := packArgs([]driver.Arg{nil})
	if len(blob) != 0 {
		t.Fatalf("expected empty blob, got %d bytes", len(blob))
	}
	if len(offsets) != 1 || offsets[0] != -1 {
		t.Fatalf("unexpected offsets: %v", offsets)
	}
}
