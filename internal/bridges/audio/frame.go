package audio

import (
	"bytes"
	"fmt"
	"strconv"
)

// Frame layout: the ASCII prefix "Length=", six lowercase hex digits giving
// the body length in bytes, one space, then the XML body.
const (
	framePrefix    = "Length="
	frameHeaderLen = len(framePrefix) + 6 + 1

	// maxFrame bounds a single body; larger lengths are treated as garbage.
	maxFrame = 1 << 20
)

// EncodeFrame wraps an XML body in the length header.
func EncodeFrame(body string) []byte {
	return fmt.Appendf(nil, "%s%06x %s", framePrefix, len(body), body)
}

// FrameBuffer reassembles frames from a byte stream. Bytes that do not start
// a valid header are skipped until the next "Length=".
//
// FrameBuffer is not safe for concurrent use; each session owns one.
type FrameBuffer struct {
	buf []byte
}

// Feed appends chunk and returns every complete body now available, in
// stream order. An incomplete trailing frame stays buffered.
func (f *FrameBuffer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var out []string
	for {
		i := bytes.Index(f.buf, []byte(framePrefix))
		if i < 0 {
			// Keep a possible partial prefix at the tail.
			if keep := len(framePrefix) - 1; len(f.buf) > keep {
				f.buf = append(f.buf[:0], f.buf[len(f.buf)-keep:]...)
			}
			return out
		}
		if i > 0 {
			f.buf = append(f.buf[:0], f.buf[i:]...)
		}
		if len(f.buf) < frameHeaderLen {
			return out
		}

		n, ok := parseLength(f.buf[len(framePrefix) : frameHeaderLen-1])
		if !ok || f.buf[frameHeaderLen-1] != ' ' {
			f.buf = f.buf[1:]
			continue
		}
		if len(f.buf) < frameHeaderLen+n {
			return out
		}

		out = append(out, string(f.buf[frameHeaderLen:frameHeaderLen+n]))
		f.buf = append(f.buf[:0], f.buf[frameHeaderLen+n:]...)
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *FrameBuffer) Buffered() int { return len(f.buf) }

// Reset discards buffered bytes.
func (f *FrameBuffer) Reset() { f.buf = f.buf[:0] }

func parseLength(hex []byte) (int, bool) {
	n, err := strconv.ParseUint(string(hex), 16, 32)
	if err != nil || n > maxFrame {
		return 0, false
	}
	return int(n), true
}
