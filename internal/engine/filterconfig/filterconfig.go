// Package filterconfig hot-reloads the client's filters: string option
// (spec §6) from a file on disk, letting a long-running session swap its
// active filter expression without a stop/start round trip. It extends the
// option rather than replacing it: a filters value of the form
// "watch:<path>" tells session.MediaContext to hand the path to a Watcher
// instead of parsing the expression once at start.
package filterconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/alxayo/go-mediadecode/internal/logger"
)

// OnChange receives the parsed command and arguments every time the
// watched file's contents change to something new.
type OnChange func(command string, args []string)

// Watcher watches one file for content changes and re-parses it as a
// filter expression (whitespace-separated command + args, the same
// convention session.Option.Filters already uses for a static value).
type Watcher struct {
	path     string
	onChange OnChange
	log      *slog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu   sync.Mutex
	last string
}

// New starts watching path. It applies the file's current contents once,
// synchronously, before returning, so a caller observes the initial filter
// expression without racing the watch goroutine.
func New(path string, onChange OnChange) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the containing directory rather than the file itself: editors
	// commonly replace a file via rename-into-place, which an fsnotify
	// watch on the file's own inode would miss.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		log:      logger.WithWorker(logger.Logger(), "filterconfig"),
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	w.reload()
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filter config watch error", "err", err)
		case <-w.done:
			return
		}
	}
}

// reload re-reads the file and invokes onChange if the trimmed contents
// differ from the last value applied. A missing or unreadable file is
// logged and otherwise ignored: the previously applied filter stays active.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("failed to read filter config", "path", w.path, "err", err)
		return
	}
	expr := strings.TrimSpace(string(data))

	w.mu.Lock()
	if expr == w.last {
		w.mu.Unlock()
		return
	}
	w.last = expr
	w.mu.Unlock()

	fields := strings.Fields(expr)
	if len(fields) == 0 {
		w.log.Warn("filter config is empty, keeping previous expression", "path", w.path)
		return
	}
	w.onChange(fields[0], fields[1:])
}

// Close stops the watch goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
