package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leculver/clrmd/pkg/dump"
)

func infoFlags() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show the identity and address space of a dump",
		ArgsUsage: "DUMP",
		Action:    info,
		Flags: append(clientFlags(),
			&cli.BoolFlag{
				Name:    "segments",
				Aliases: []string{"s"},
				Usage:   "list every memory segment",
			}),
	}
}

type segmentInfo struct {
	VA         string `json:"va"`
	End        string `json:"end"`
	Length     uint64 `json:"length"`
	FileOffset uint64 `json:"offset"`
}

type targetInfo struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	PointerSize int           `json:"pointer_size"`
	Segments    int           `json:"segments"`
	MappedBytes uint64        `json:"mapped_bytes"`
	Ranges      []segmentInfo `json:"ranges,omitempty"`
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

func info(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		return fmt.Errorf("DUMP is needed")
	}
	path := c.Args().Get(0)
	t, r, err := openTarget(c, path)
	if err != nil {
		return err
	}
	defer t.Store.Close()
	defer r.Close()

	ti := targetInfo{
		ID:          dump.TargetID(path, t.Segments).String(),
		Path:        path,
		PointerSize: t.PointerSize,
		Segments:    t.Segments.Len(),
	}
	for _, s := range t.Segments.Segments() {
		ti.MappedBytes += s.Length
		if c.Bool("segments") {
			ti.Ranges = append(ti.Ranges, segmentInfo{
				VA:         fmt.Sprintf("0x%x", s.VA),
				End:        fmt.Sprintf("0x%x", s.End()),
				Length:     s.Length,
				FileOffset: s.FileOffset,
			})
		}
	}
	printJson(&ti)
	return nil
}
