// Package filesource implements source.Source over a local file using a
// minimal length-prefixed packet framing: demuxing a real container is out
// of scope (spec §1), so this format exists purely to exercise the pull/seek
// contract end to end against on-disk bytes rather than synthetic packets.
//
// Record layout, little-endian: int64 pts_us, uint8 keyframe (0/1),
// uint32 payload length, payload bytes.
package filesource

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"context"

	"github.com/alxayo/go-mediadecode/internal/engine/pipeline"
	"github.com/alxayo/go-mediadecode/internal/engine/source"
	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

type keyframeEntry struct {
	ts     int64
	offset int64
}

// Source reads records from a local file, building a keyframe index at
// Open time so Seek can jump directly to the nearest preceding keyframe.
type Source struct {
	f         *os.File
	r         *bufio.Reader
	keyframes []keyframeEntry
}

// Open indexes f's keyframe offsets (a single sequential scan) and
// positions the read cursor at the start.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filesource: open: %w", err)
	}
	s := &Source{f: f}
	if err := s.indexKeyframes(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	s.r = bufio.NewReader(f)
	return s, nil
}

func (s *Source) indexKeyframes() error {
	r := bufio.NewReader(s.f)
	var offset int64
	for {
		ts, keyframe, length, err := readHeader(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("filesource: index: %w", err)
		}
		if keyframe {
			s.keyframes = append(s.keyframes, keyframeEntry{ts: ts, offset: offset})
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return fmt.Errorf("filesource: index: %w", err)
		}
		offset += headerSize + int64(length)
	}
	return nil
}

const headerSize = 8 + 1 + 4

func readHeader(r io.Reader) (ts int64, keyframe bool, length uint32, err error) {
	var buf [headerSize]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return 0, false, 0, err
	}
	ts = int64(binary.LittleEndian.Uint64(buf[0:8]))
	keyframe = buf[8] != 0
	length = binary.LittleEndian.Uint32(buf[9:13])
	return ts, keyframe, length, nil
}

// PullPacket reads the next record. filesource never returns ErrAgain: a
// local file is always immediately readable.
func (s *Source) PullPacket(_ context.Context) (*pipeline.Packet, error) {
	ts, keyframe, length, err := readHeader(s.r)
	if err == io.EOF {
		return nil, engerrors.EOF
	}
	if err != nil {
		return nil, engerrors.NewExternalError("filesource.pull_packet", err)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(s.r, data); err != nil {
		return nil, engerrors.NewInvalidDataError("filesource.pull_packet", err)
	}
	pkt := &pipeline.Packet{Data: data, PTS: ts}
	pkt.SetKeyFrame(keyframe)
	return pkt, nil
}

// Seek repositions to the last keyframe at or before targetUs, or the
// first keyframe if targetUs precedes every keyframe.
func (s *Source) Seek(_ context.Context, targetUs int64) error {
	if len(s.keyframes) == 0 {
		return engerrors.NewUnsupportedError("filesource.seek", fmt.Errorf("no keyframes indexed"))
	}
	idx := sort.Search(len(s.keyframes), func(i int) bool { return s.keyframes[i].ts > targetUs })
	if idx > 0 {
		idx--
	}
	if _, err := s.f.Seek(s.keyframes[idx].offset, io.SeekStart); err != nil {
		return engerrors.NewExternalError("filesource.seek", err)
	}
	s.r = bufio.NewReader(s.f)
	return nil
}

func (s *Source) Close() error {
	return s.f.Close()
}

var _ source.Source = (*Source)(nil)
