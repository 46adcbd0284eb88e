package dump

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/leculver/clrmd/pkg/mem"
	"github.com/leculver/clrmd/pkg/store"
	"github.com/leculver/clrmd/pkg/utils"
)

var logger = utils.GetLogger("clrmd")

const minidumpMagic = 0x504d444d // "MDMP"

// Minidump stream types we care about.
const (
	memoryListStream   = 5
	systemInfoStream   = 7
	memory64ListStream = 9
)

// Windows processor architecture codes from the SystemInfo stream.
const (
	archIntel = 0
	archARM   = 5
	archAMD64 = 9
	archARM64 = 12
)

// Target is an opened dump: the backing store, the address space map and
// what little target metadata the loader understands.
type Target struct {
	Store       store.Store
	Segments    *mem.SegmentMap
	PointerSize int
}

// storeReader adapts a Store to io.ReaderAt for the parsing helpers.
type storeReader struct {
	s store.Store
}

func (r storeReader) ReadAt(b []byte, off int64) (int, error) {
	n := r.s.ReadAt(uint64(off), b)
	if n < len(b) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// OpenMinidump reads the stream directory of a minidump and builds the
// segment map from its memory list. The rest of the file stays opaque; the
// cache only ever sees (VA, length, offset) triples.
func OpenMinidump(s store.Store) (*Target, error) {
	r := storeReader{s}
	var hdr struct {
		Signature uint32
		Version   uint32
		Streams   uint32
		DirRva    uint32
	}
	if err := readStruct(r, 0, &hdr); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if hdr.Signature != minidumpMagic {
		return nil, errors.Errorf("bad signature 0x%x, not a minidump", hdr.Signature)
	}

	t := &Target{Store: s, PointerSize: 8}
	var segs []mem.Segment
	for i := uint32(0); i < hdr.Streams; i++ {
		var dir struct {
			Type uint32
			Size uint32
			Rva  uint32
		}
		if err := readStruct(r, int64(hdr.DirRva)+int64(i)*12, &dir); err != nil {
			return nil, errors.Wrapf(err, "read directory entry %d", i)
		}
		switch dir.Type {
		case memory64ListStream:
			ss, err := readMemory64List(r, int64(dir.Rva))
			if err != nil {
				return nil, err
			}
			segs = append(segs, ss...)
		case memoryListStream:
			ss, err := readMemoryList(r, int64(dir.Rva))
			if err != nil {
				return nil, err
			}
			segs = append(segs, ss...)
		case systemInfoStream:
			var arch uint16
			if err := readStruct(r, int64(dir.Rva), &arch); err != nil {
				return nil, err
			}
			switch arch {
			case archIntel, archARM:
				t.PointerSize = 4
			case archAMD64, archARM64:
				t.PointerSize = 8
			default:
				logger.Warnf("unknown processor architecture %d, assuming 64-bit", arch)
			}
		}
	}
	m, err := mem.NewSegmentMap(segs)
	if err != nil {
		return nil, err
	}
	if m.Len() == 0 {
		return nil, errors.New("dump has no memory ranges")
	}
	t.Segments = m
	logger.Debugf("loaded %d memory ranges", m.Len())
	return t, nil
}

// readMemory64List parses a MINIDUMP_MEMORY64_LIST: ranges are stored
// back to back starting at BaseRva, so offsets are cumulative.
func readMemory64List(r io.ReaderAt, rva int64) ([]mem.Segment, error) {
	var hdr struct {
		Ranges  uint64
		BaseRva uint64
	}
	if err := readStruct(r, rva, &hdr); err != nil {
		return nil, errors.Wrap(err, "read memory64 list")
	}
	segs := make([]mem.Segment, 0, hdr.Ranges)
	off := hdr.BaseRva
	for i := uint64(0); i < hdr.Ranges; i++ {
		var desc struct {
			Start uint64
			Size  uint64
		}
		if err := readStruct(r, rva+16+int64(i)*16, &desc); err != nil {
			return nil, errors.Wrapf(err, "read memory range %d", i)
		}
		segs = append(segs, mem.Segment{VA: desc.Start, Length: desc.Size, FileOffset: off})
		off += desc.Size
	}
	return segs, nil
}

// readMemoryList parses a MINIDUMP_MEMORY_LIST, the 32-bit flavour where
// every range carries its own rva.
func readMemoryList(r io.ReaderAt, rva int64) ([]mem.Segment, error) {
	var count uint32
	if err := readStruct(r, rva, &count); err != nil {
		return nil, errors.Wrap(err, "read memory list")
	}
	segs := make([]mem.Segment, 0, count)
	for i := uint32(0); i < count; i++ {
		var desc struct {
			Start uint64
			Size  uint32
			Rva   uint32
		}
		if err := readStruct(r, rva+4+int64(i)*16, &desc); err != nil {
			return nil, errors.Wrapf(err, "read memory range %d", i)
		}
		segs = append(segs, mem.Segment{VA: desc.Start, Length: uint64(desc.Size), FileOffset: uint64(desc.Rva)})
	}
	return segs, nil
}

func readStruct(r io.ReaderAt, off int64, v interface{}) error {
	return binary.Read(io.NewSectionReader(r, off, 1<<20), binary.LittleEndian, v)
}
