// Package stream decodes the line-framed event stream of a query response.
//
// A response body is a sequence of text lines. Lines beginning with the
// "data:" marker carry one JSON event each; every other line is noise. The
// Decoder turns arbitrarily split byte chunks into frames, Interpret turns a
// frame into a typed Event, and Reader drives both lazily over an io.Reader.
package stream

import (
	"bytes"

	"github.com/capitalize-ai/repochat/internal/model"
)

var marker = []byte(model.EventMarker)

// Frame is one accepted event line with the marker stripped.
type Frame struct {
	Payload string
}

// Decoder splits incoming chunks into frames. The zero value is ready to use.
// Output does not depend on where chunk boundaries fall.
type Decoder struct {
	pending []byte
}

// NewDecoder creates a decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends chunk to the pending buffer and returns every frame completed
// by it, in arrival order. The trailing partial line stays buffered.
func (d *Decoder) Write(chunk []byte) []Frame {
	d.pending = append(d.pending, chunk...)

	var frames []Frame
	start := 0
	for {
		i := bytes.IndexByte(d.pending[start:], '\n')
		if i < 0 {
			break
		}
		if f, ok := acceptLine(d.pending[start : start+i]); ok {
			frames = append(frames, f)
		}
		start += i + 1
	}

	if start > 0 {
		d.pending = append(d.pending[:0], d.pending[start:]...)
	}
	return frames
}

// Flush emits the buffered remainder as a final candidate line and resets
// the decoder. It is called once the stream has ended.
func (d *Decoder) Flush() []Frame {
	rest := d.pending
	d.pending = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	if f, ok := acceptLine(rest); ok {
		return []Frame{f}
	}
	return nil
}

// Buffered returns the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

func acceptLine(line []byte) (Frame, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, marker) {
		return Frame{}, false
	}
	return Frame{Payload: string(bytes.TrimSpace(line[len(marker):]))}, true
}
