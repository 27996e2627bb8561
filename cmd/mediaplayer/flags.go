package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into
// session.Option calls, so main.go can validate and map.
type cliConfig struct {
	input       string
	logLevel    string
	fps         float64
	duration    float64
	skip        float64
	maxPixels   int
	filters     string
	recordPath  string
	hooksStdio  string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mediaplayer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.input, "input", "", "Media file to play (path, or azure://account.blob.core.windows.net/container/blob)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.Float64Var(&cfg.fps, "fps", 30.0, "Playback frame rate used to step get_frame calls")
	fs.Float64Var(&cfg.duration, "duration", 0, "Stop after this many seconds of playback (0 = play to end of stream)")
	fs.Float64Var(&cfg.skip, "skip", 0, "Initial skip, in seconds, applied on start")
	fs.IntVar(&cfg.maxPixels, "max-pixels", 0, "Cap on decoded frame pixel count (0 = unlimited)")
	fs.StringVar(&cfg.filters, "filters", "", "Filter command line, e.g. \"ffmpeg-filter scale=640:360\" (empty = built-in scale/trim filter)")
	fs.StringVar(&cfg.recordPath, "record", "", "Write every decoded frame to this file (empty = disabled)")
	fs.StringVar(&cfg.hooksStdio, "hooks-stdio", "", "Emit session lifecycle events to stderr: json|env (empty = disabled)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.showVersion {
		return cfg, nil
	}

	if cfg.input == "" {
		return nil, errors.New("-input is required")
	}
	if cfg.fps <= 0 {
		return nil, fmt.Errorf("-fps must be positive, got %v", cfg.fps)
	}
	if cfg.duration < 0 {
		return nil, fmt.Errorf("-duration must be >= 0, got %v", cfg.duration)
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	switch cfg.hooksStdio {
	case "", "json", "env":
	default:
		return nil, fmt.Errorf("invalid hooks-stdio %q: want json or env", cfg.hooksStdio)
	}

	return cfg, nil
}
