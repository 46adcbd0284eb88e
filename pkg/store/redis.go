package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lz4 "github.com/hungys/go-lz4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	rawBlock byte = iota
	lz4Block
)

// RedisConfig describes a shared block cache in front of a slow store.
type RedisConfig struct {
	URL       string // redis://[user:pass@]host:port/db
	Prefix    string // key prefix; defaults to "clrmd"
	BlockSize int
	TTL       time.Duration
	Compress  bool // lz4 blocks before caching them
}

// redisStore is a read-through block cache kept in Redis. Several analysis
// processes pointed at the same remote dump share one set of warm blocks;
// concurrent fills of a block collapse into a single fetch.
type redisStore struct {
	under    Store
	umu      sync.Mutex
	locking  bool
	rdb      *redis.Client
	prefix   string
	block    int
	ttl      time.Duration
	compress bool
	fetching controller
}

// NewRedisCache wraps a store with a Redis block cache.
func NewRedisCache(under Store, conf *RedisConfig) (Store, error) {
	opt, err := redis.ParseURL(conf.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", conf.URL)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
	defer cancel()
	if err = rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	block := conf.BlockSize
	if block <= 0 {
		block = 1 << 20
	}
	ttl := conf.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	prefix := conf.Prefix
	if prefix == "" {
		prefix = "clrmd"
	}
	return &redisStore{
		under:    under,
		locking:  !under.ThreadSafe(),
		rdb:      rdb,
		prefix:   prefix,
		block:    block,
		ttl:      ttl,
		compress: conf.Compress,
	}, nil
}

func (c *redisStore) ReadAt(off uint64, b []byte) int {
	total := 0
	for total < len(b) {
		pos := off + uint64(total)
		blk := pos / uint64(c.block)
		bo := int(pos - blk*uint64(c.block))
		data := c.loadBlock(blk)
		if bo >= len(data) {
			break
		}
		n := copy(b[total:], data[bo:])
		total += n
		if bo+n < c.block {
			// short block, the store ends inside it
			break
		}
	}
	return total
}

func (c *redisStore) loadBlock(blk uint64) []byte {
	key := fmt.Sprintf("%s:%d", c.prefix, blk)
	ctx := context.Background()
	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return c.decode(key, cached)
	}
	if err != redis.Nil {
		logger.Warnf("load %s: %s", key, err)
	}
	data, _ := c.fetching.execute(key, func() ([]byte, error) {
		buf := make([]byte, c.block)
		n := c.readUnder(blk*uint64(c.block), buf)
		buf = buf[:n]
		if err := c.rdb.Set(ctx, key, c.encode(buf), c.ttl).Err(); err != nil {
			logger.Warnf("cache %s: %s", key, err)
		}
		return buf, nil
	})
	return data
}

func (c *redisStore) readUnder(off uint64, b []byte) int {
	if c.locking {
		c.umu.Lock()
		defer c.umu.Unlock()
	}
	return c.under.ReadAt(off, b)
}

func (c *redisStore) encode(b []byte) []byte {
	if c.compress && len(b) > 0 {
		buf := make([]byte, 1+lz4.CompressBound(len(b)))
		buf[0] = lz4Block
		if n, err := lz4.CompressDefault(b, buf[1:]); err == nil && n < len(b) {
			return buf[:1+n]
		}
	}
	return append([]byte{rawBlock}, b...)
}

func (c *redisStore) decode(key string, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case lz4Block:
		dst := make([]byte, c.block)
		n, err := lz4.DecompressSafe(data[1:], dst)
		if err != nil {
			logger.Warnf("decompress %s: %s", key, err)
			return nil
		}
		return dst[:n]
	default:
		return data[1:]
	}
}

func (c *redisStore) ThreadSafe() bool {
	return true
}

func (c *redisStore) Close() error {
	_ = c.rdb.Close()
	return c.under.Close()
}
