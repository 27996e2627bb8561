// Package recorder persists decoded frames to disk in a small
// self-describing binary format, standing in for what a real player would
// do with a Frame (put it on screen) when a demo CLI has no display
// surface. Mirrors the teacher's FLV tag writer: a short fixed header
// followed by one record per unit, and on any write error the recorder
// disables itself rather than propagating the error back into the
// playback hot path.
package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
)

// header is 4 bytes of magic plus a 1-byte format version.
var header = []byte{'M', 'E', 'D', 'R', 0x01}

// Recorder writes every frame handed to it into a single file as a
// length-prefixed record: int64 PTS, uint8 keyframe, uint32 width, uint32
// height, uint8 pixel format, uint32 payload length, payload. Safe for
// single-goroutine use (the demo CLI's playback loop); the mutex guards
// against accidental concurrent calls.
type Recorder struct {
	mu            sync.Mutex
	w             io.WriteCloser
	log           *slog.Logger
	wroteHeader   bool
	bytesWritten  uint64
	framesWritten uint64
}

// NewRecorder creates a recorder writing to path. If file creation or the
// header write fails, it returns a nil *Recorder and the error.
func NewRecorder(path string, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder.create: %w", err)
	}
	r := &Recorder{w: f, log: log}
	if err := r.writeHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

// newRecorderWithWriter lets tests inject a failing writer (disk-full
// simulation) without going through the filesystem.
func newRecorderWithWriter(w io.WriteCloser, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{w: w, log: log}
	_ = r.writeHeader()
	return r
}

// Disabled reports whether a prior write error has shut the recorder down.
func (r *Recorder) Disabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w == nil
}

// FramesWritten returns the number of frame records successfully written.
func (r *Recorder) FramesWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.framesWritten
}

func (r *Recorder) writeHeader() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil || r.wroteHeader {
		return nil
	}
	if _, err := r.w.Write(header); err != nil {
		r.log.Error("recorder header write failed", "err", err)
		r.closeLocked()
		return fmt.Errorf("recorder.header: %w", err)
	}
	r.wroteHeader = true
	r.bytesWritten += uint64(len(header))
	return nil
}

// WriteFrame persists one decoded frame. It no-ops once the recorder is
// disabled, and disables itself on the first write failure.
func (r *Recorder) WriteFrame(f *pipeline.Frame) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	if !r.wroteHeader {
		r.mu.Unlock()
		err := r.writeHeader()
		r.mu.Lock()
		if err != nil {
			return
		}
	}
	if err := r.writeRecordLocked(f); err != nil {
		r.log.Error("recorder record write failed", "err", err)
		r.closeLocked()
	}
}

// record layout: int64 PTS, uint8 keyframe, uint32 width, uint32 height,
// uint8 format, uint32 payload length, payload (Planes concatenated).
func (r *Recorder) writeRecordLocked(f *pipeline.Frame) error {
	var payload []byte
	for _, plane := range f.Planes {
		payload = append(payload, plane...)
	}
	if len(payload) > 0xFFFFFFFF {
		return fmt.Errorf("recorder.record: payload too large: %d", len(payload))
	}

	var hdr [8 + 1 + 4 + 4 + 1 + 4]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(f.PTS))
	if f.KeyFrame {
		hdr[8] = 1
	}
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(f.Width))
	binary.LittleEndian.PutUint32(hdr[13:17], uint32(f.Height))
	hdr[17] = byte(f.Format)
	binary.LittleEndian.PutUint32(hdr[18:22], uint32(len(payload)))

	if _, err := r.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := r.w.Write(payload); err != nil {
			return err
		}
	}
	r.bytesWritten += uint64(len(hdr) + len(payload))
	r.framesWritten++
	return nil
}

// Close releases the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}
