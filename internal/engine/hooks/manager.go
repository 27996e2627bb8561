package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// HookManager fans EventType occurrences out to every Hook registered
// against that type, plus the single stdio hook if one is enabled. Firing
// is asynchronous: TriggerEvent hands events to a bounded executionPool and
// returns without waiting on any hook to run, so a slow or wedged hook
// (a subprocess that never exits, a webhook server that never answers)
// cannot stall the session whose lifecycle raised the event.
type HookManager struct {
	mu        sync.RWMutex
	hooks     map[EventType][]Hook
	stdioHook *StdioHook

	pool    *executionPool
	timeout time.Duration
	logger  *slog.Logger
}

// NewHookManager builds a manager around config. An invalid or empty
// config.Timeout falls back to 30s; config.StdioFormat, if set, enables the
// stdio hook immediately rather than requiring a separate EnableStdioOutput
// call.
func NewHookManager(config HookConfig, logger *slog.Logger) *HookManager {
	if logger == nil {
		logger = slog.Default()
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		logger.Warn("hooks: invalid timeout, defaulting to 30s", "configured", config.Timeout, "err", err)
		timeout = 30 * time.Second
	}

	hm := &HookManager{
		hooks:   make(map[EventType][]Hook),
		pool:    newExecutionPool(config.Concurrency, logger),
		timeout: timeout,
		logger:  logger,
	}

	if config.StdioFormat != "" {
		_ = hm.EnableStdioOutput(config.StdioFormat)
	}

	return hm
}

// RegisterHook subscribes hook to eventType. A session may register hooks
// for several event types; the same hook value may be registered under more
// than one type.
func (hm *HookManager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hooks: cannot register a nil hook")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.hooks[eventType] = append(hm.hooks[eventType], hook)
	hm.logger.Info("hooks: registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes the hook with hookID from eventType's subscriber
// list, reporting whether a match was found.
func (hm *HookManager) UnregisterHook(eventType EventType, hookID string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	subs := hm.hooks[eventType]
	for i, h := range subs {
		if h.ID() == hookID {
			hm.hooks[eventType] = append(subs[:i], subs[i+1:]...)
			hm.logger.Info("hooks: unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent dispatches event to every hook subscribed to event.Type, plus
// the stdio hook if enabled. Nil-receiver-safe: every call site in the
// engine holds a *HookManager that may be nil when no hooks were configured
// for the session, and fires through this method unconditionally rather
// than checking first.
func (hm *HookManager) TriggerEvent(ctx context.Context, event Event) {
	if hm == nil {
		return
	}

	hm.mu.RLock()
	subs := append([]Hook(nil), hm.hooks[event.Type]...)
	stdio := hm.stdioHook
	hm.mu.RUnlock()

	if stdio != nil {
		subs = append(subs, stdio)
	}
	if len(subs) == 0 {
		return
	}

	hm.logger.Debug("hooks: dispatching", "event_type", event.Type, "subscribers", len(subs), "event", event.String())
	for _, h := range subs {
		hm.pool.execute(ctx, h, event, hm.timeout)
	}
}

// EnableStdioOutput installs (or replaces) the stdio hook with the given
// format, one of "json" or "env".
func (hm *HookManager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("hooks: unsupported stdio format %q", format)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.stdioHook = NewStdioHook("stdio", format)
	hm.logger.Info("hooks: stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput removes the stdio hook, if any.
func (hm *HookManager) DisableStdioOutput() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.stdioHook = nil
	hm.logger.Info("hooks: stdio output disabled")
}

// GetStats reports registration and pool occupancy counts, primarily for
// diagnostics endpoints and tests.
func (hm *HookManager) GetStats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	byType := make(map[string]int, len(hm.hooks))
	total := 0
	for eventType, subs := range hm.hooks {
		byType[string(eventType)] = len(subs)
		total += len(subs)
	}

	return map[string]interface{}{
		"event_types":   len(hm.hooks),
		"total_hooks":   total,
		"hooks_by_type": byType,
		"stdio_enabled": hm.stdioHook != nil,
		"pool_size":     hm.pool.size,
		"pool_active":   int(hm.pool.active.Load()),
	}
}

// Close drains the execution pool, blocking until every in-flight hook
// execution has returned its worker slot.
func (hm *HookManager) Close() error {
	if hm.pool != nil {
		hm.pool.drain()
	}
	hm.logger.Info("hooks: manager closed")
	return nil
}

// executionPool bounds how many hook executions may run concurrently. Each
// execution runs on its own goroutine but must first acquire a slot from a
// buffered channel sized to config.Concurrency, so a burst of events (e.g.
// every active media firing EventSegmentEOF at once) cannot spawn an
// unbounded number of subprocesses or outbound HTTP requests.
type executionPool struct {
	slots  chan struct{}
	size   int
	active atomic.Int64
	logger *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{slots: make(chan struct{}, size), size: size, logger: logger}
}

// execute runs hook.Execute(event) on its own goroutine, bounding it with
// timeout and logging the outcome. A hook that hangs past timeout still
// occupies its pool slot until the hook's own Execute call notices ctx is
// done and returns; implementations are expected to honor ctx cancellation.
func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event, timeout time.Duration) {
	go func() {
		ep.slots <- struct{}{}
		defer func() { <-ep.slots }()

		ep.active.Inc()
		defer ep.active.Dec()

		execCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := hook.Execute(execCtx, event)
		elapsed := time.Since(start)

		if err != nil {
			ep.logger.Error("hooks: execution failed",
				"hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "elapsed_ms", elapsed.Milliseconds(), "err", err)
			return
		}
		ep.logger.Debug("hooks: execution ok",
			"hook_type", hook.Type(), "hook_id", hook.ID(),
			"event_type", event.Type, "elapsed_ms", elapsed.Milliseconds())
	}()
}

// drain blocks until every outstanding execution has released its slot, by
// acquiring them all itself.
func (ep *executionPool) drain() {
	for i := 0; i < cap(ep.slots); i++ {
		ep.slots <- struct{}{}
	}
}
