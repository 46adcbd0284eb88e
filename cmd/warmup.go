package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/leculver/clrmd/pkg/mem"
	"github.com/leculver/clrmd/pkg/utils"
)

func warmupFlags() *cli.Command {
	return &cli.Command{
		Name:      "warmup",
		Usage:     "pre-fault every mapped page through the cache",
		ArgsUsage: "DUMP",
		Action:    warmup,
		Flags: append(clientFlags(),
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"p"},
				Value:   4,
				Usage:   "number of concurrent readers",
			}),
	}
}

type _span struct {
	va     uint64
	length uint64
}

func warmup(c *cli.Context) error {
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

	pageSize := uint64(c.Int("page-size"))
	var spans []_span
	var total int64
	for _, s := range t.Segments.Segments() {
		for va := s.VA; va < s.End(); va += pageSize {
			n := s.End() - va
			if n > pageSize {
				n = pageSize
			}
			spans = append(spans, _span{va, n})
			total++
		}
	}

	start := time.Now()
	progress, bar := utils.NewDynProgressBar("warming up", c.Bool("quiet"))
	bar.SetTotal(total, false)

	concurrent := c.Int("threads")
	todo := make(chan _span, 10240)
	wg := sync.WaitGroup{}
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			buf := make([]byte, pageSize)
			for sp := range todo {
				if n := r.ReadAt(sp.va, buf[:sp.length]); uint64(n) < sp.length {
					logger.Debugf("page 0x%x: %d of %d bytes", sp.va, n, sp.length)
				}
				bar.Increment()
			}
			wg.Done()
		}()
	}
	for _, sp := range spans {
		todo <- sp
	}
	close(todo)
	wg.Wait()
	bar.SetTotal(bar.Current(), true)
	progress.Wait()

	st := r.Stats()
	logger.Infof("Warmed up %d pages in %s", total, time.Since(start))
	printStats(st)
	return nil
}

func printStats(st mem.Stats) {
	logger.Infof("cache: %d hits, %d misses, %d multi-page, %d unaligned, %d paged out",
		st.Hits, st.Misses, st.MultiPageReads, st.UnalignedReads, st.PageOuts)
}
