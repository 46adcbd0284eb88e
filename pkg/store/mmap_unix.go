package store

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mmapStore serves reads straight out of a memory-mapped dump file.
type mmapStore struct {
	path string
	data []byte
}

// OpenMmap maps the named file read-only.
func OpenMmap(path string) (Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &mmapStore{path: path, data: []byte{}}, nil
	}
	if size != int64(int(size)) {
		return nil, errors.Errorf("mmap: file %q is too large", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &mmapStore{path: path, data: data}, nil
}

func (s *mmapStore) ReadAt(off uint64, b []byte) int {
	if s.data == nil || off >= uint64(len(s.data)) {
		return 0
	}
	return copy(b, s.data[off:])
}

func (s *mmapStore) ThreadSafe() bool {
	return true
}

// Size returns the mapped file size.
func (s *mmapStore) Size() uint64 {
	return uint64(len(s.data))
}

func (s *mmapStore) Close() error {
	if len(s.data) == 0 {
		s.data = nil
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}
