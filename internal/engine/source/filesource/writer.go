package filesource

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteRecord appends one packet record to w, matching the layout PullPacket
// expects. Used by the package's tests to build sample files.
func WriteRecord(w io.Writer, ts int64, keyframe bool, payload []byte) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(ts))
	if keyframe {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(payload)))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("filesource: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("filesource: write payload: %w", err)
	}
	return nil
}
