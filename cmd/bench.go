package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
)

func benchFlags() *cli.Command {
	return &cli.Command{
		Name:      "bench",
		Usage:     "measure random read throughput against a dump",
		ArgsUsage: "DUMP",
		Action:    bench,
		Flags: append(clientFlags(),
			&cli.IntFlag{
				Name:  "count",
				Value: 100000,
				Usage: "number of reads per thread",
			},
			&cli.IntFlag{
				Name:  "size",
				Value: 32,
				Usage: "bytes per read",
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"p"},
				Value:   4,
				Usage:   "number of concurrent readers",
			}),
	}
}

func bench(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		return fmt.Errorf("DUMP is needed")
	}
	t, r, err := openTarget(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer t.Store.Close()
	defer r.Close()

	segs := t.Segments.Segments()
	count := c.Int("count")
	size := c.Int("size")
	threads := c.Int("threads")

	start := time.Now()
	var read int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(seed int64) {
			rng := rand.New(rand.NewSource(seed))
			buf := make([]byte, size)
			var got int64
			for j := 0; j < count; j++ {
				s := segs[rng.Intn(len(segs))]
				va := s.VA + uint64(rng.Int63n(int64(s.Length)))
				got += int64(r.ReadAt(va, buf))
			}
			mu.Lock()
			read += got
			mu.Unlock()
			wg.Done()
		}(int64(i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := threads * count
	logger.Infof("%d reads of %d bytes in %s (%.0f reads/s, %s/s)",
		ops, size, elapsed, float64(ops)/elapsed.Seconds(),
		humanize(float64(read)/elapsed.Seconds()))
	printStats(r.Stats())
	return nil
}

func humanize(bytes float64) string {
	units := []string{"B", "KiB", "MiB", "GiB"}
	i := 0
	for bytes >= 1024 && i < len(units)-1 {
		bytes /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", bytes, units[i])
}
