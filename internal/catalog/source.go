package catalog

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrImageNotFound is returned when a source has no bytes for a cubin.
var ErrImageNotFound = errors.New("cubin image not found")

// ImageSource supplies cubin bytes. Returned slices are read-only and stay
// valid until the source is closed.
type ImageSource interface {
	Image(c *Cubin) ([]byte, error)
}

// MapSource serves images from memory, keyed by cubin name.
type MapSource map[string][]byte

func (m MapSource) Image(c *Cubin) ([]byte, error) {
	if c == nil {
		return nil, errors.Wrap(ErrImageNotFound, "nil cubin")
	}
	b, ok := m[c.Name]
	if !ok {
		return nil, errors.Wrapf(ErrImageNotFound, "%s", c.Name)
	}
	return b, nil
}

// DirSource maps <dir>/<cubin name> read-only on first use and keeps the
// mapping until Close.
type DirSource struct {
	dir string

	mu      sync.Mutex
	images  map[string][]byte
	mmapped map[string]bool
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{
		dir:     dir,
		images:  make(map[string][]byte),
		mmapped: make(map[string]bool),
	}
}

// Dir returns the directory images are read from.
func (s *DirSource) Dir() string { return s.dir }

func (s *DirSource) Image(c *Cubin) ([]byte, error) {
	if c == nil {
		return nil, errors.Wrap(ErrImageNotFound, "nil cubin")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.images[c.Name]; ok {
		return b, nil
	}
	b, mmapped, err := mapFile(filepath.Join(s.dir, c.Name))
	if err != nil {
		return nil, err
	}
	s.images[c.Name] = b
	s.mmapped[c.Name] = mmapped
	return b, nil
}

// Close releases every mapping. Slices returned earlier must not be used
// afterwards.
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, b := range s.images {
		if s.mmapped[name] {
			if err := unix.Munmap(b); err != nil && first == nil {
				first = errors.Wrapf(err, "munmap %s", name)
			}
		}
		delete(s.images, name)
		delete(s.mmapped, name)
	}
	return first
}

func mapFile(path string) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, errors.Wrapf(ErrImageNotFound, "%s", path)
		}
		return nil, false, errors.Wrapf(err, "open cubin %s", path)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, false, errors.Wrapf(err, "stat cubin %s", path)
	}
	size := int(stat.Size())
	if size == 0 {
		return nil, false, errors.Errorf("cubin %s is empty", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, true, nil
	}

	// mmap can be unavailable on some filesystems.
	data = make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, false, errors.Wrapf(err, "read cubin %s", path)
	}
	return data, false, nil
}
