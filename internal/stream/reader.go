package stream

import (
	"errors"
	"io"

	"github.com/capitalize-ai/repochat/pkg/metrics"
)

const defaultChunkSize = 4096

// MalformedFunc receives frames that failed to parse.
type MalformedFunc func(payload string, err error)

// Reader yields events from a response body in wire order. Frames are
// interpreted one at a time as Next is called.
type Reader struct {
	src         io.Reader
	dec         *Decoder
	buf         []byte
	queue       []Frame
	err         error
	onMalformed MalformedFunc
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMalformedHandler registers a callback for skipped frames.
func WithMalformedHandler(fn MalformedFunc) ReaderOption {
	return func(r *Reader) {
		r.onMalformed = fn
	}
}

// WithChunkSize sets the size of each read from the source.
func WithChunkSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// NewReader creates a Reader over src.
func NewReader(src io.Reader, opts ...ReaderOption) *Reader {
	r := &Reader{
		src: src,
		dec: NewDecoder(),
		buf: make([]byte, defaultChunkSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next event. It returns io.EOF once the source is drained
// and every frame has been delivered; any other error is the source's read
// error, returned after the frames decoded before it.
func (r *Reader) Next() (Event, error) {
	for {
		for len(r.queue) > 0 {
			f := r.queue[0]
			r.queue = r.queue[1:]

			ev, ok, err := Interpret(f.Payload)
			if err != nil {
				metrics.RecordMalformedFrame()
				if r.onMalformed != nil {
					r.onMalformed(f.Payload, err)
				}
				continue
			}
			if ok {
				return ev, nil
			}
		}

		if r.err != nil {
			return Event{}, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.enqueue(r.dec.Write(r.buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.enqueue(r.dec.Flush())
				r.err = io.EOF
			} else {
				r.err = err
			}
		}
	}
}

func (r *Reader) enqueue(frames []Frame) {
	if len(frames) == 0 {
		return
	}
	metrics.RecordFramesDecoded(len(frames))
	r.queue = append(r.queue, frames...)
}
