package dump

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/leculver/clrmd/pkg/mem"
	"github.com/leculver/clrmd/pkg/store"
	"github.com/leculver/clrmd/pkg/utils"
)

// mapFile is the sidecar description for raw memory images that carry no
// segment table of their own.
type mapFile struct {
	PointerSize int          `json:"pointer_size,omitempty"`
	Segments    []mapSegment `json:"segments"`
}

type mapSegment struct {
	VA         uint64 `json:"va"`
	Length     uint64 `json:"length"`
	FileOffset uint64 `json:"offset"`
}

// Open opens the dump at path. Minidumps are recognised by signature; any
// other image needs a sidecar map at path+".map" describing its segments.
// Compressed dumps (.zst) are handled transparently by the store layer.
func Open(path string) (*Target, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := OpenStore(s, path)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return t, nil
}

// OpenStore builds a target over an already opened store; path is only used
// to locate a sidecar map and to label the target.
func OpenStore(s store.Store, path string) (*Target, error) {
	var magic [4]byte
	if s.ReadAt(0, magic[:]) == 4 && binary.LittleEndian.Uint32(magic[:]) == minidumpMagic {
		return OpenMinidump(s)
	}
	mapPath := path + ".map"
	if !utils.Exists(mapPath) {
		return nil, errors.Errorf("%s is not a minidump and %s does not exist", path, mapPath)
	}
	return openMapped(s, mapPath)
}

// openMapped builds a target from a raw image plus its sidecar map.
func openMapped(s store.Store, mapPath string) (*Target, error) {
	data, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, err
	}
	var mf mapFile
	if err = json.Unmarshal(data, &mf); err != nil {
		return nil, errors.Wrapf(err, "parse %s", mapPath)
	}
	segs := make([]mem.Segment, len(mf.Segments))
	for i, ms := range mf.Segments {
		segs[i] = mem.Segment{VA: ms.VA, Length: ms.Length, FileOffset: ms.FileOffset}
	}
	m, err := mem.NewSegmentMap(segs)
	if err != nil {
		return nil, err
	}
	if m.Len() == 0 {
		return nil, errors.Errorf("%s describes no segments", mapPath)
	}
	ptr := mf.PointerSize
	if ptr == 0 {
		ptr = 8
	}
	return &Target{Store: s, Segments: m, PointerSize: ptr}, nil
}

// TargetID derives a stable identity for a dump from its path and the
// extent of its address space, so repeated runs (and other processes) agree
// on cache keys and log labels.
func TargetID(path string, segs *mem.SegmentMap) uuid.UUID {
	var lo, hi uint64
	if ss := segs.Segments(); len(ss) > 0 {
		lo, hi = ss[0].VA, ss[len(ss)-1].End()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("clrmd:%s:%x-%x", path, lo, hi)))
}
