package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

func readFlags() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "hex dump target memory at a virtual address",
		ArgsUsage: "DUMP ADDR [LEN]",
		Action:    readCmd,
		Flags: append(clientFlags(),
			&cli.BoolFlag{
				Name:    "pointer",
				Aliases: []string{"p"},
				Usage:   "read a single pointer instead of a hex dump",
			}),
	}
}

func readCmd(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 2 {
		return fmt.Errorf("DUMP and ADDR are needed")
	}
	va, err := strconv.ParseUint(c.Args().Get(1), 0, 64)
	if err != nil {
		return fmt.Errorf("parse address %q: %s", c.Args().Get(1), err)
	}
	length := uint64(256)
	if c.Args().Len() > 2 {
		if length, err = strconv.ParseUint(c.Args().Get(2), 0, 32); err != nil {
			return fmt.Errorf("parse length %q: %s", c.Args().Get(2), err)
		}
	}
	t, r, err := openTarget(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer t.Store.Close()
	defer r.Close()

	if c.Bool("pointer") {
		p, ok := r.ReadPointer(va)
		if !ok {
			return fmt.Errorf("0x%x is not mapped", va)
		}
		fmt.Printf("0x%x\n", p)
		return nil
	}

	buf := make([]byte, length)
	n := r.ReadAt(va, buf)
	if n == 0 {
		return fmt.Errorf("0x%x is not mapped", va)
	}
	hexDump(va, buf[:n])
	if uint64(n) < length {
		logger.Warnf("short read: %d of %d bytes", n, length)
	}
	return nil
}

func hexDump(va uint64, b []byte) {
	for off := 0; off < len(b); off += 16 {
		end := off + 16
		if end > len(b) {
			end = len(b)
		}
		line := b[off:end]
		ascii := make([]byte, len(line))
		for i, ch := range line {
			if ch >= 0x20 && ch < 0x7f {
				ascii[i] = ch
			} else {
				ascii[i] = '.'
			}
		}
		fmt.Printf("%016x  %-48s |%s|\n", va+uint64(off), fmt.Sprintf("% x", line), ascii)
	}
}
