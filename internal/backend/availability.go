package backend

import "strings"

// Has reports whether the named backend is compiled in.
func Has(name string) bool {
	switch name {
	case Sim:
		return true
	case CUDA:
		return cudaEnabled
	default:
		return false
	}
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Sim}
	if Has(CUDA) {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}
