package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gops/agent"
	"github.com/juicedata/godaemon"
	"github.com/urfave/cli/v2"

	"github.com/leculver/clrmd/pkg/fuse"
	"github.com/leculver/clrmd/pkg/utils"
)

func mountFlags() *cli.Command {
	return &cli.Command{
		Name:      "mount",
		Usage:     "expose the dump's address space as a read-only filesystem",
		ArgsUsage: "DUMP MOUNTPOINT",
		Action:    mount,
		Flags: append(clientFlags(),
			&cli.BoolFlag{
				Name:    "d",
				Aliases: []string{"background"},
				Usage:   "run in background",
			},
			&cli.BoolFlag{
				Name:  "no-agent",
				Usage: "disable the gops diagnostic agent",
			},
			&cli.DurationFlag{
				Name:  "stats-interval",
				Value: time.Minute * 10,
				Usage: "how often to log cache statistics",
			}),
	}
}

func makeDaemon(c *cli.Context) error {
	var attrs godaemon.DaemonAttr

	// the current dir will be changed to root in daemon,
	// so the dump and mount point have to be absolute paths.
	if godaemon.Stage() == 0 {
		for _, a := range []string{c.Args().Get(0), c.Args().Get(1)} {
			if strings.HasPrefix(a, "sftp://") {
				continue
			}
			abs, err := filepath.Abs(a)
			if err != nil || abs == a {
				continue
			}
			for j, arg := range os.Args {
				if arg == a {
					os.Args[j] = abs
				}
			}
		}
		logfile := c.String("log")
		if logfile == "" {
			logfile = "/tmp/clrmd.log"
		}
		var err error
		attrs.Stdout, err = os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("open log file %s: %s", logfile, err)
		}
	}
	_, _, err := godaemon.MakeDaemon(&attrs)
	return err
}

func mount(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 2 {
		return fmt.Errorf("DUMP and MOUNTPOINT are needed")
	}
	if c.Bool("d") {
		if err := makeDaemon(c); err != nil {
			logger.Fatalf("make daemon: %s", err)
		}
	}
	if !c.Bool("no-agent") {
		go func() {
			if err := agent.Listen(agent.Options{}); err != nil {
				logger.Warnf("gops agent: %s", err)
			}
		}()
	}

	t, r, err := openTarget(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer t.Store.Close()
	defer r.Close()

	server, err := fuse.Mount(r, c.Args().Get(1), c.Bool("trace"))
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.Duration("stats-interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ru := utils.GetRusage()
				logger.Infof("up %s, cpu %.1fs user %.1fs sys, pool %d bytes",
					utils.Clock().Round(time.Second), ru.GetUtime(), ru.GetStime(), utils.AllocMemory())
				printStats(r.Stats())
			case <-done:
				return
			}
		}
	}()

	server.Wait()
	close(done)
	return nil
}
