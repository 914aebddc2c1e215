package cuda

import "github.com/samcharles93/xqa/internal/driver"

// packArgs lays argument values out in one blob. Arguments of 64 bytes or
// more start on a 64-byte boundary (tensor maps require it), the rest on an
// 8-byte boundary. A nil argument gets offset -1.
func packArgs(args []driver.Arg) ([]byte, []int64) {
	offsets := make([]int64, len(args))
	size := 0
	for i, a := range args {
		if a == nil {
			offsets[i] = -1
			continue
		}
		size = alignUp(size, argAlign(len(a)))
		offsets[i] = int64(size)
		size += len(a)
	}
	blob := make([]byte, size)
	for i, a := range args {
		if offsets[i] >= 0 {
			copy(blob[offsets[i]:], a)
		}
	}
	return blob, offsets
}

func argAlign(n int) int {
	if n >= 64 {
		return 64
	}
	return 8
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}
