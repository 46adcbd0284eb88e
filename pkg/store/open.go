package store

import (
	"io"
	"os"
	"strings"

	"github.com/DataDog/zstd"
)

// Open opens a dump file as a Store. Plain dumps are memory-mapped;
// zstd-compressed dumps (.zst) are inflated to a temporary file first and
// mapped from there.
func Open(path string) (Store, error) {
	if strings.HasSuffix(path, ".zst") {
		return openZstd(path)
	}
	return OpenMmap(path)
}

func openZstd(path string) (Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr := zstd.NewReader(f)
	defer zr.Close()
	tmp, err := os.CreateTemp("", "clrmd-dump-*")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(tmp, zr)
	_ = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	logger.Infof("inflated %s to %s (%d bytes)", path, tmp.Name(), n)
	s, err := OpenMmap(tmp.Name())
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	return &tempStore{Store: s, path: tmp.Name()}, nil
}

// tempStore removes its inflated temp file on close.
type tempStore struct {
	Store
	path string
}

func (s *tempStore) Close() error {
	err := s.Store.Close()
	_ = os.Remove(s.path)
	return err
}
