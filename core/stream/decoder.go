// Package stream splits the chat stream into newline-delimited event frames.
package stream

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// EventPrefix marks a frame that carries an event payload. Every other
	// line (blank keep-alives, `event:` names, `:` comments) is dropped.
	EventPrefix = "data:"

	delimiter = '\n'
)

// Frame is a single newline-terminated line of the stream, still carrying its
// wire prefix.
type Frame string

// Payload returns the frame content with the event prefix and surrounding
// whitespace removed.
func (f Frame) Payload() string {
	return strings.TrimSpace(strings.TrimPrefix(string(f), EventPrefix))
}

// Decoder accumulates raw chunks and emits complete frames. It is not safe for
// concurrent use; one decoder serves one stream.
type Decoder struct {
	buf     []byte
	utf8    transform.Transformer
	dropped int
}

func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed appends chunk to the internal buffer and returns every frame completed
// by it, in arrival order. The unterminated tail stays buffered until a later
// chunk completes it.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, delimiter)
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		frame := d.decode(bytes.TrimSuffix(line, []byte{'\r'}))
		if !strings.HasPrefix(string(frame), EventPrefix) {
			d.dropped++
			continue
		}
		frames = append(frames, frame)
	}

	// Compact so the retained tail does not pin the whole history of the
	// stream in memory.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 2*len(d.buf) {
		d.buf = append([]byte(nil), d.buf...)
	}

	return frames
}

// Flush returns whatever unterminated content is still buffered and resets
// the decoder. The residual is not a valid frame; callers only use it for
// diagnostics.
func (d *Decoder) Flush() (Frame, bool) {
	if len(d.buf) == 0 {
		return "", false
	}
	residual := d.decode(d.buf)
	d.buf = nil
	return residual, true
}

// Dropped reports how many completed lines were discarded because they did
// not carry the event prefix.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Buffered reports the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) decode(line []byte) Frame {
	d.utf8.Reset()
	decoded, _, err := transform.Bytes(d.utf8, line)
	if err != nil {
		// The UTF-8 decoder replaces invalid sequences instead of failing, so
		// this only guards against transformer misuse.
		return Frame(strings.ToValidUTF8(string(line), "\uFFFD"))
	}
	return Frame(decoded)
}
