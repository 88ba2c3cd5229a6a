// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	ct "github.com/mlnoga/caltrace/internal"
	"github.com/mlnoga/caltrace/internal/config"
	"github.com/mlnoga/caltrace/internal/ops"
	"github.com/mlnoga/caltrace/internal/pipeline"
	"github.com/mlnoga/caltrace/internal/rest"
	"github.com/mlnoga/caltrace/internal/synth"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var configFile = flag.String("config", "", "load settings from YAML `file`, defaults for missing entries")
var saveConfig = flag.String("saveConfig", "", "save the effective settings as YAML to `file`")
var out = flag.String("out", "out/", "prefix for all output files, may include a directory")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` uses the output prefix plus caltrace.log")
var threads = flag.Int("threads", 0, "maximum number of threads for tile registration, 0=auto")

var method = flag.String("method", "", "override the registration method, one of pw_ecc, ecc, none")
var weighted = flag.Bool("weighted", false, "use the weighted movie-wise ROI picker")

var frames = flag.Int("frames", 100, "synth: number of frames")
var width = flag.Int("width", 64, "synth: frame width")
var height = flag.Int("height", 64, "synth: frame height")
var noise = flag.Float64("noise", 0, "synth: amplitude of uniform noise")
var seed = flag.Uint("seed", 1, "synth: random seed")

var addr = flag.String("addr", ":8080", "serve: listen address")
var chroot = flag.String("chroot", "", "serve: change filesystem root to this directory, requires root")
var setuid = flag.Int("setuid", -1, "serve: change user id after setup, -1=keep")

func main() {
	logWriter := os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `caltrace Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (register|pickup|run|synth|serve|legal|version) (frame pattern)

Commands:
  register Register frames and detect ROIs frame by frame
  pickup   Pick ROIs movie-wise and extract fluorescence from an earlier register output
  run      Register, detect, pick up and extract in one go
  synth    Write a synthetic movie to the given %%d file pattern
  serve    Serve the REST API
  legal    Show license and attribution information
  version  Show version information

Frame patterns are globs like 'movie/*.tif', or patterns like 'movie/frame%%05d.tif'.

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		*log = ""
		if args[0] == "register" || args[0] == "pickup" || args[0] == "run" {
			*log = *out + "caltrace.log"
		}
	}
	if *log != "" {
		if err := (pipeline.Outputs{Prefix: *out}).MkdirAll(); err != nil {
			ct.LogFatalf("Unable to create output directory for '%s': %s\n", *out, err.Error())
		}
		if err := ct.LogAlsoToFile(*log); err != nil {
			ct.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}
	defer ct.LogSync()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			ct.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			ct.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := loadConfig()
	if err != nil {
		ct.LogFatalf("Error: %s\n", err.Error())
	}
	c := ops.NewContext(ct.Log)
	if cfg.MaxThreads > 0 {
		c.MaxThreads = cfg.MaxThreads
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// run actions
	switch args[0] {
	case "register":
		err = cmdRegister(ctx, c, cfg, args[1:], false)

	case "run":
		err = cmdRegister(ctx, c, cfg, args[1:], true)

	case "pickup":
		_, err = pipeline.PickupExtractFromFiles(ctx, c, cfg, pipeline.Outputs{Prefix: *out})

	case "synth":
		err = cmdSynth(args[1:])

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, ct.Log); err == nil {
			ct.LogPrintf("Serving on %s using %s\n", *addr, c.Describe())
			err = rest.Serve(*addr)
		}

	case "legal":
		cmdLegal()
		return

	case "version":
		ct.LogPrintf("Version %s\n", version)
		ct.LogPrintf("Running on %s\n", c.Describe())
		return

	case "help", "?":
		flag.Usage()
		return

	default:
		ct.LogPrintf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	if err != nil {
		ct.LogFatalf("Error: %s\n", err.Error())
	}
	ct.LogPrintf("\nDone after %v\n", time.Since(start))
}

// Loads the configuration file if given, and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if *threads > 0 {
		cfg.MaxThreads = *threads
	}
	if *method != "" {
		cfg.Registration.Method = *method
	}
	if *weighted {
		cfg.Pickup.Weighted = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if *saveConfig != "" {
		if err := config.Save(cfg, *saveConfig); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func cmdRegister(ctx context.Context, c *ops.Context, cfg *config.Config, args []string, pickup bool) error {
	if len(args) != 1 {
		return fmt.Errorf("expecting exactly one frame pattern, got %d arguments", len(args))
	}
	src, err := pipeline.NewFrameSource(args[0])
	if err != nil {
		return err
	}
	ct.LogPrintf("Processing %d frames from %s using %s\n", src.Len(), args[0], c.Describe())
	outputs := pipeline.Outputs{Prefix: *out}
	if pickup {
		_, _, err = pipeline.Run(ctx, c, cfg, src, outputs)
	} else {
		_, err = pipeline.RegisterDetect(ctx, c, cfg, src, outputs)
	}
	return err
}

func cmdSynth(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expecting exactly one output file pattern, got %d arguments", len(args))
	}
	p := synth.DefaultParams()
	p.Frames, p.Width, p.Height = *frames, *width, *height
	p.Noise, p.Seed = *noise, uint32(*seed)
	p.Blobs[0].X, p.Blobs[0].Y = 0.47*float64(p.Width), 0.53*float64(p.Height)
	m, err := synth.Generate(p)
	if err != nil {
		return err
	}
	if err := (pipeline.Outputs{Prefix: args[0]}).MkdirAll(); err != nil {
		return err
	}
	names, err := m.WriteTIFFs(args[0])
	if err != nil {
		return err
	}
	ct.LogPrintf("Wrote %d frames of %dx%d pixels to %s ... %s\n", len(names), p.Width, p.Height, names[0], names[len(names)-1])
	return nil
}
