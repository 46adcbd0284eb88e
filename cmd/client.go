package main

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/leculver/clrmd/pkg/dump"
	"github.com/leculver/clrmd/pkg/mem"
	"github.com/leculver/clrmd/pkg/store"
)

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "page-size",
			Value: mem.DefaultPageSize,
			Usage: "cache page size in bytes (power of two)",
		},
		&cli.StringFlag{
			Name:  "cache-mode",
			Value: "lru",
			Usage: "page cache variant (lru, sized)",
		},
		&cli.IntFlag{
			Name:  "capacity",
			Value: mem.DefaultCapacity,
			Usage: "page count bound of the lru cache",
		},
		&cli.Int64Flag{
			Name:  "cache-size",
			Value: 256,
			Usage: "resident byte budget of the sized cache in MiB",
		},
		&cli.BoolFlag{
			Name:  "off-heap",
			Usage: "keep resident pages in anonymous mappings",
		},
		&cli.Int64Flag{
			Name:  "bwlimit",
			Usage: "limit reads from the backing store (MiB/s)",
		},
		&cli.StringFlag{
			Name:  "cache-redis",
			Usage: "share warm blocks through redis (redis://host:port/db)",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "lz4 the blocks cached in redis",
		},
	}
}

// openTarget opens a local or sftp:// dump and builds the cached reader
// over it per the command's flags.
func openTarget(c *cli.Context, path string) (*dump.Target, *mem.Reader, error) {
	var t *dump.Target
	var err error
	if strings.HasPrefix(path, "sftp://") {
		t, err = openRemote(path)
	} else {
		t, err = dump.Open(path)
	}
	if err != nil {
		return nil, nil, err
	}
	if bw := c.Int64("bwlimit"); bw > 0 {
		t.Store = store.NewLimited(t.Store, bw<<20)
	}
	if rurl := c.String("cache-redis"); rurl != "" {
		cached, err := store.NewRedisCache(t.Store, &store.RedisConfig{
			URL:      rurl,
			Prefix:   dump.TargetID(path, t.Segments).String(),
			Compress: c.Bool("compress"),
		})
		if err != nil {
			_ = t.Store.Close()
			return nil, nil, err
		}
		t.Store = cached
	}
	conf := &mem.Config{
		PageSize:    c.Int("page-size"),
		PointerSize: t.PointerSize,
		OffHeap:     c.Bool("off-heap"),
	}
	if c.String("cache-mode") == "sized" {
		conf.Variant = mem.SegmentSized
		conf.MaxBytes = c.Int64("cache-size") << 20
	} else {
		conf.Variant = mem.LRU
		conf.Capacity = c.Int("capacity")
	}
	r, err := mem.NewReader(t.Store, t.Segments, conf)
	if err != nil {
		_ = t.Store.Close()
		return nil, nil, err
	}
	return t, r, nil
}

func openRemote(rawurl string) (*dump.Target, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	conf := &store.SFTPConfig{
		Host: u.Hostname(),
		Path: u.Path,
	}
	if p := u.Port(); p != "" {
		conf.Port, _ = strconv.Atoi(p)
	}
	if u.User != nil {
		conf.User = u.User.Username()
		conf.Password, _ = u.User.Password()
	}
	if conf.Password == "" {
		conf.PrivateKey = defaultKeyPath()
	}
	s, err := store.OpenSFTP(conf)
	if err != nil {
		return nil, err
	}
	t, err := dump.OpenStore(s, rawurl)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return t, nil
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
