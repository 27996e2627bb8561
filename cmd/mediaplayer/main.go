package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"

	"github.com/alxayo/go-mediadecode/internal/engine/recorder"
	"github.com/alxayo/go-mediadecode/internal/engine/session"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// The flag package already printed parse errors and usage;
		// validation errors from parseFlags exit without a message.
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mediaCtx := session.CreateContext(cfg.input)
	if cfg.hooksStdio != "" {
		if err := mediaCtx.Hooks().EnableStdioOutput(cfg.hooksStdio); err != nil {
			log.Warn("failed to enable hook stdio output", "error", err)
		}
	}
	media, err := mediaCtx.AddMedia(ctx, cfg.input)
	if err != nil {
		log.Error("failed to open media", "input", cfg.input, "error", err)
		os.Exit(1)
	}
	defer mediaCtx.Free()

	metricsReg := prometheus.NewRegistry()
	if err := media.Metrics().Register(metricsReg); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	if err := applyOptions(media, cfg); err != nil {
		log.Error("failed to apply options", "error", err)
		os.Exit(1)
	}

	var rec *recorder.Recorder
	if cfg.recordPath != "" {
		rec, err = recorder.NewRecorder(cfg.recordPath, log)
		if err != nil {
			log.Error("failed to open recording file", "path", cfg.recordPath, "error", err)
			os.Exit(1)
		}
		defer rec.Close()
	}

	if err := media.Start(ctx); err != nil {
		log.Error("failed to start media", "error", err)
		os.Exit(1)
	}

	log.Info("playback started", "input", cfg.input, "fps", cfg.fps, "version", version)

	done := make(chan struct{})
	go func() {
		defer close(done)
		playback(ctx, media, rec, cfg, log)
	}()

	select {
	case <-done:
		log.Info("playback finished")
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopDone := make(chan struct{})
	go func() {
		if err := media.Stop(); err != nil {
			log.Error("media stop error", "error", err)
		}
		close(stopDone)
	}()

	select {
	case <-stopDone:
		log.Info("media stopped cleanly")
	case <-stopCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// applyOptions maps the CLI flags onto set_option calls (spec §6's option
// set). Unset flags are left at MediaContext's defaults.
func applyOptions(media *session.MediaContext, cfg *cliConfig) error {
	if cfg.skip != 0 {
		if err := media.SetOption("skip", cfg.skip); err != nil {
			return err
		}
	}
	if cfg.maxPixels != 0 {
		if err := media.SetOption("max_pixels", cfg.maxPixels); err != nil {
			return err
		}
	}
	if cfg.filters != "" {
		if err := media.SetOption("filters", cfg.filters); err != nil {
			return err
		}
	}
	return nil
}

// playback steps get_frame at the configured frame rate until duration
// elapses, the stream reaches EOF, or ctx is cancelled. Each delivered frame
// is released immediately after use, matching the spec's get_frame/
// release_frame pairing.
func playback(ctx context.Context, media *session.MediaContext, rec *recorder.Recorder, cfg *cliConfig, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	step := 1.0 / cfg.fps
	var bar *progressbar.ProgressBar
	if cfg.duration > 0 {
		bar = progressbar.Default(int64(cfg.duration / step))
	}

	for t := 0.0; cfg.duration == 0 || t <= cfg.duration; t += step {
		if ctx.Err() != nil {
			return
		}
		frame, err := media.GetFrame(ctx, t)
		if err != nil {
			log.Warn("get_frame failed", "t", t, "error", err)
			return
		}
		if frame == nil {
			return
		}
		if rec != nil {
			rec.WriteFrame(frame)
		}
		session.ReleaseFrame(frame)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
}
