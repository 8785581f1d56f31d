package main

import (
	cli "gopkg.in/urfave/cli.v1"

	"tirsharpen/pkg/sharpen"
)

var defaults = sharpen.NewParams()

// sceneFlags configure loading, sharpening and writing scenes.
var sceneFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "output, o",
		Value:  ".",
		Usage:  "directory for the sharpened products",
		EnvVar: "TIRSHARPEN_OUTPUT_DIR",
	},
	cli.StringFlag{
		Name:   "encoding",
		Value:  "float32",
		Usage:  "FITS sample encoding: float32 or int16 (temperature x10)",
		EnvVar: "TIRSHARPEN_ENCODING",
	},
	cli.BoolFlag{
		Name:   "quicklook, q",
		Usage:  "also write a colour-ramped preview image",
		EnvVar: "TIRSHARPEN_QUICKLOOK",
	},
	cli.StringFlag{
		Name:   "quicklook-format",
		Value:  "png",
		Usage:  "preview format: png or jpeg",
		EnvVar: "TIRSHARPEN_QUICKLOOK_FORMAT",
	},
	cli.IntFlag{
		Name:   "quicklook-width",
		Value:  800,
		Usage:  "maximum preview width in pixels",
		EnvVar: "TIRSHARPEN_QUICKLOOK_WIDTH",
	},
	cli.BoolFlag{
		Name:   "diagnostics",
		Usage:  "add the intermediate bands to the FITS cube",
		EnvVar: "TIRSHARPEN_DIAGNOSTICS",
	},
	cli.BoolFlag{
		Name:   "no-ec",
		Usage:  "skip the energy-conservation correction",
		EnvVar: "TIRSHARPEN_NO_EC",
	},
	cli.IntFlag{
		Name:   "radius",
		Value:  defaults.KernelRadius,
		Usage:  "local regression window radius in coarse cells",
		EnvVar: "TIRSHARPEN_KERNEL_RADIUS",
	},
	cli.Float64Flag{
		Name:   "cv",
		Value:  defaults.CVThreshold,
		Usage:  "coefficient-of-variation threshold for homogeneous cells",
		EnvVar: "TIRSHARPEN_CV_THRESHOLD",
	},
	cli.Float64Flag{
		Name:   "sample-rate",
		Value:  defaults.SampleRate,
		Usage:  "share of homogeneous cells used to train the global model",
		EnvVar: "TIRSHARPEN_SAMPLE_RATE",
	},
	cli.IntFlag{
		Name:   "min-samples",
		Value:  defaults.MinTrainingSamples,
		Usage:  "minimum training samples for the global model",
		EnvVar: "TIRSHARPEN_MIN_SAMPLES",
	},
	cli.Int64Flag{
		Name:   "seed",
		Value:  defaults.Seed,
		Usage:  "seed for training sampling and the random forest",
		EnvVar: "TIRSHARPEN_SEED",
	},
	cli.IntFlag{
		Name:   "workers, w",
		Value:  defaults.Workers,
		Usage:  "worker goroutines per stage",
		EnvVar: "TIRSHARPEN_WORKERS",
	},
	sensorsFlag,
	collectionFlag,
	cli.StringFlag{
		Name:   "metrics-textfile",
		Usage:  "write Prometheus metrics to this file after the run",
		EnvVar: "TIRSHARPEN_METRICS_TEXTFILE",
	},
}

var sensorsFlag = cli.StringFlag{
	Name:   "sensors",
	Usage:  "JSON sensor table replacing the built-in Landsat profiles",
	EnvVar: "TIRSHARPEN_SENSORS",
}

var collectionFlag = cli.StringFlag{
	Name:   "collection",
	Usage:  "Landsat collection of raw inputs, e.g. LANDSAT/LC08/C02/T1_L2",
	EnvVar: "TIRSHARPEN_COLLECTION",
}

var commands = cli.Commands{
	cli.Command{
		Name:      "sharpen",
		Aliases:   []string{"s"},
		Usage:     "Sharpen the thermal band of one scene",
		ArgsUsage: "<scene.fits|scene.json>",
		Flags:     sceneFlags,
		Action:    sharpenAction,
	},
	cli.Command{
		Name:      "batch",
		Aliases:   []string{"b"},
		Usage:     "Sharpen every scene in the given files and directories",
		ArgsUsage: "<dir|scene>...",
		Flags:     sceneFlags,
		Action:    batchAction,
	},
	cli.Command{
		Name:   "profiles",
		Usage:  "Print the sensor table",
		Flags:  []cli.Flag{sensorsFlag},
		Action: profilesAction,
	},
	cli.Command{
		Name:      "inspect",
		Aliases:   []string{"i"},
		Usage:     "Print the grid, metadata and band statistics of a scene",
		ArgsUsage: "<scene.fits|scene.json>",
		Flags:     []cli.Flag{collectionFlag},
		Action:    inspectAction,
	},
	cli.Command{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "Print the version number of the tirsharpen CLI",
		Action:  versionAction,
	},
}

func createCliApp() (app *cli.App) {
	app = cli.NewApp()
	app.Name = "tirsharpen"
	app.Usage = "Sharpen Landsat thermal imagery to the reflectance resolution"
	app.Version = version
	app.Commands = commands
	return
}
