// Package cli contains the bevdepth command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	datasetFlagInfos    = "infos"
	datasetFlagDataRoot = "data-root"
	datasetFlagIndex    = "index"
	datasetFlagCount    = "count"
	datasetFlagWorkers  = "workers"
	datasetFlagEval     = "eval"
	datasetFlagSeed     = "seed"

	liftFlagReturnDepth = "return-depth"
)

var infosFlag = &cli.StringSliceFlag{
	Name:     datasetFlagInfos,
	Required: true,
	Usage:    "JSON info `FILE`s, read in order",
}

var sampleFlags = []cli.Flag{
	infosFlag,
	&cli.PathFlag{
		Name:     datasetFlagDataRoot,
		Required: true,
		Usage:    "directory the image and lidar filenames of the infos are relative to",
	},
	&cli.IntFlag{
		Name:  datasetFlagIndex,
		Usage: "first sample index",
	},
	&cli.IntFlag{
		Name:  datasetFlagCount,
		Value: 1,
		Usage: "number of consecutive samples",
	},
	&cli.IntFlag{
		Name:  datasetFlagWorkers,
		Value: 4,
		Usage: "number of samples assembled in parallel",
	},
	&cli.BoolFlag{
		Name:  datasetFlagEval,
		Usage: "assemble samples without augmentation or ground truth",
	},
	&cli.Int64Flag{
		Name:  datasetFlagSeed,
		Usage: "seed of the per-sample augmentation draws",
	},
}

var app = &cli.App{
	Name:            "bevdepth",
	Usage:           "prepare multi-camera BEV samples and lift them into voxel features",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE` on top of the nuScenes defaults",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "inspect",
			Usage:  "assemble samples and summarize them",
			Flags:  sampleFlags,
			Action: InspectAction,
		},
		{
			Name:  "balance",
			Usage: "print per-class frequencies before and after class-balanced resampling",
			Flags: []cli.Flag{
				infosFlag,
				&cli.Int64Flag{
					Name:  datasetFlagSeed,
					Usage: "seed of the resampling draws",
				},
			},
			Action: BalanceAction,
		},
		{
			Name:  "lift",
			Usage: "collate samples and lift them into BEV features with the reference layers",
			Flags: append(append([]cli.Flag(nil), sampleFlags...),
				&cli.BoolFlag{
					Name:  liftFlagReturnDepth,
					Usage: "also summarize the key sweep depth distribution",
				},
			),
			Action: LiftAction,
		},
	},
}

// NewApp returns a new app with the CLI function attached to the given writers.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
