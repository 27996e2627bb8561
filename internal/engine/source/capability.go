// Package source defines the Source capability interface (spec §6): the
// byte-layer collaborator a reader worker drives. Demuxing/container
// parsing is out of scope (spec §1); this package only specifies the
// pull_packet/seek boundary plus small concrete implementations.
package source

import (
	"context"
	"errors"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
)

// ErrAgain is the retryable "no packet ready yet" condition (spec §6,
// §4.6): the reader worker sleeps briefly and calls PullPacket again.
var ErrAgain = errors.New("source: try again")

// Source is the byte-layer collaborator (spec §6).
type Source interface {
	// PullPacket returns the next packet, ErrAgain if none is ready yet,
	// errors.EOF at end of stream, or any other error fatal to the session.
	PullPacket(ctx context.Context) (*pipeline.Packet, error)
	// Seek repositions the source so the next PullPacket returns a packet
	// at or before targetUs (typically the preceding keyframe).
	Seek(ctx context.Context, targetUs int64) error
	// Close releases any underlying handle (file descriptor, connection).
	Close() error
}
