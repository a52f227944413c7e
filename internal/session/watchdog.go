package session

import (
	"io"
	"sync/atomic"
	"time"
)

// idleWatchdog cancels an exchange when its response goes quiet.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatchdog(timeout time.Duration, cancel func()) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})
	return w
}

// Wrap returns a reader that re-arms the watchdog whenever bytes arrive.
func (w *idleWatchdog) Wrap(r io.Reader) io.Reader {
	return &watchedReader{r: r, w: w}
}

// Fired reports whether the timeout elapsed.
func (w *idleWatchdog) Fired() bool {
	return w.fired.Load()
}

func (w *idleWatchdog) Stop() {
	w.timer.Stop()
}

func (w *idleWatchdog) touch() {
	if !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

type watchedReader struct {
	r io.Reader
	w *idleWatchdog
}

func (wr *watchedReader) Read(p []byte) (int, error) {
	n, err := wr.r.Read(p)
	if n > 0 {
		wr.w.touch()
	}
	return n, err
}
