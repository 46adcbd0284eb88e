package fuse

import (
	"context"
	"fmt"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/leculver/clrmd/pkg/mem"
	"github.com/leculver/clrmd/pkg/utils"
)

var logger = utils.GetLogger("clrmd")

// Root exposes a target's address space as a read-only directory: one file
// per segment, named by start address, with reads served through the page
// cache.
type Root struct {
	fs.Inode
	reader *mem.Reader
}

func NewRoot(r *mem.Reader) *Root {
	return &Root{reader: r}
}

var _ = (fs.NodeOnAdder)((*Root)(nil))

func (r *Root) OnAdd(ctx context.Context) {
	for _, s := range r.reader.SegmentMap().Segments() {
		name := fmt.Sprintf("%016x", s.VA)
		child := r.NewPersistentInode(ctx, &segment{reader: r.reader, seg: s},
			fs.StableAttr{Mode: fuse.S_IFREG})
		r.AddChild(name, child, false)
	}
}

type segment struct {
	fs.Inode
	reader *mem.Reader
	seg    mem.Segment
}

var _ = (fs.NodeGetattrer)((*segment)(nil))
var _ = (fs.NodeOpener)((*segment)(nil))
var _ = (fs.NodeReader)((*segment)(nil))

func (f *segment) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0444
	out.Size = f.seg.Length
	return 0
}

func (f *segment) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// the dump is immutable, let the kernel keep its page cache
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *segment) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 || uint64(off) >= f.seg.Length {
		return fuse.ReadResultData(nil), 0
	}
	if max := f.seg.Length - uint64(off); uint64(len(dest)) > max {
		dest = dest[:max]
	}
	n := f.reader.ReadAt(f.seg.VA+uint64(off), dest)
	return fuse.ReadResultData(dest[:n]), 0
}

// Mount serves the address space at mountpoint. The caller waits on the
// returned server and unmounts it when done.
func Mount(r *mem.Reader, mountpoint string, debug bool) (*fuse.Server, error) {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:  "clrmd",
			Name:    "clrmd",
			Debug:   debug,
			Options: []string{"ro"},
		},
	}
	server, err := fs.Mount(mountpoint, NewRoot(r), opts)
	if err != nil {
		return nil, err
	}
	logger.Infof("serving %d segments at %s", r.SegmentMap().Len(), mountpoint)
	return server, nil
}
