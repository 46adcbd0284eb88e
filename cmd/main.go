package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/leculver/clrmd/pkg/utils"
	"github.com/leculver/clrmd/pkg/version"
)

var logger = utils.GetLogger("clrmd")

func main() {
	app := &cli.App{
		Name:      "clrmd",
		Usage:     "inspect the memory of a process dump",
		Version:   version.Version(),
		Copyright: "Apache License 2.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"debug", "v"},
				Usage:   "enable debug log",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only warning and errors",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "enable trace log",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "path of log file when running in background",
			},
		},
		Commands: []*cli.Command{
			infoFlags(),
			readFlags(),
			warmupFlags(),
			benchFlags(),
			mountFlags(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logger.Fatalf("%s", err)
	}
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("trace") {
		utils.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		utils.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		utils.SetLogLevel(logrus.WarnLevel)
	}
	if lf := c.String("log"); lf != "" {
		utils.SetOutFile(lf)
	}
}
