// Package execfilter implements a filter.Capability that delegates the
// actual transform decision to an external process per frame, grounded on
// the same exec.CommandContext-plus-stdin-JSON pattern the RTMP server's
// shell hook uses for its subprocess calls. It exists for callers whose
// filter-expression (spec's client option filters: string) names a script
// rather than a built-in
// transform.
package execfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alxayo/go-mediadecode/internal/engine/filter"
	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/queue"
	"github.com/alxayo/go-mediadecode/internal/logger"
)

// frameDescriptor is what gets marshaled to the subprocess's stdin: enough
// metadata to decide on a frame without shipping pixel data across a pipe.
type frameDescriptor struct {
	PTS      int64 `json:"pts_us"`
	Width    int   `json:"width"`
	Height   int   `json:"height"`
	KeyFrame bool  `json:"keyframe"`
}

// verdict is what the subprocess writes back on stdout: whether to forward
// the frame, and an optional timestamp override (an empty ts_us means
// "unchanged").
type verdict struct {
	Keep bool   `json:"keep"`
	TSUs *int64 `json:"ts_us,omitempty"`
}

// Config names the external filter program and its fixed arguments (the
// parsed filter-expression string, spec §6 client option filters).
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Filter runs Config.Command once per frame.
type Filter struct {
	mu   sync.RWMutex
	cfg  Config
	inQ  *queue.Queue[*pipeline.Frame]
	outQ *queue.Queue[*pipeline.Frame]
	log  *slog.Logger
}

// SetCommandArgs replaces the subprocess's command and argument list in
// place, letting a caller (internal/engine/filterconfig's hot-reload
// watcher) swap the active filter expression between frames without
// restarting Run.
func (f *Filter) SetCommandArgs(command string, args []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Command = command
	f.cfg.Args = args
}

// New creates a subprocess filter. Timeout defaults to 5s.
func New(cfg Config) *Filter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Filter{cfg: cfg, log: logger.WithWorker(logger.Logger(), "filter")}
}

func (f *Filter) Init(inQ, outQ *queue.Queue[*pipeline.Frame], _ filter.FormatHint) error {
	f.inQ = inQ
	f.outQ = outQ
	return nil
}

func (f *Filter) Run(ctx context.Context) error {
	for {
		frame, err := f.inQ.Recv(ctx)
		if err != nil {
			_ = f.outQ.Send(ctx, nil)
			f.outQ.SetErrSend(err)
			return err
		}
		if frame == nil {
			_ = f.outQ.Send(ctx, nil)
			continue
		}

		v, err := f.judge(ctx, frame)
		if err != nil {
			f.log.Warn("filter subprocess failed, forwarding frame unchanged", "err", err)
			v = verdict{Keep: true}
		}
		if !v.Keep {
			frame.Release()
			continue
		}
		if v.TSUs != nil {
			frame.PTS = *v.TSUs
		}
		if sendErr := f.outQ.Send(ctx, frame); sendErr != nil {
			frame.Release()
			return sendErr
		}
	}
}

func (f *Filter) judge(ctx context.Context, frame *pipeline.Frame) (verdict, error) {
	f.mu.RLock()
	cfg := f.cfg
	f.mu.RUnlock()

	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	desc := frameDescriptor{PTS: frame.PTS, Width: frame.Width, Height: frame.Height, KeyFrame: frame.KeyFrame}
	payload, err := json.Marshal(desc)
	if err != nil {
		return verdict{}, fmt.Errorf("execfilter: marshal descriptor: %w", err)
	}

	cmd := exec.CommandContext(execCtx, cfg.Command, cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return verdict{}, fmt.Errorf("execfilter: %s: %w: %s", cfg.Command, err, strings.TrimSpace(stderr.String()))
	}

	var v verdict
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return verdict{}, fmt.Errorf("execfilter: decode verdict: %w", err)
	}
	return v, nil
}

func (f *Filter) Uninit() error { return nil }
