// Package stream implements the newline-delimited JSON frame protocol used by
// the summary endpoints: a server-side Writer with keepalive heartbeats and a
// client-side decoder that is independent of read-chunk boundaries.
package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"trendaware-backend/internal/models"
)

const ContentType = "application/x-ndjson"

// SetHeaders prepares a response for streaming. Call before the first write.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer serializes frames onto one response. Safe for concurrent use; the
// heartbeat goroutine and the pipeline share it.
type Writer struct {
	mu        sync.Mutex
	out       io.Writer
	rc        *http.ResponseController
	requestID string
	err       error

	hbStop chan struct{}
	hbDone chan struct{}
	once   sync.Once
}

// NewWriter wraps out. When out is an http.ResponseWriter every frame is
// flushed and the server write deadline is lifted for the stream's lifetime.
func NewWriter(out io.Writer, requestID string) *Writer {
	w := &Writer{out: out, requestID: requestID}
	if rw, ok := out.(http.ResponseWriter); ok {
		w.rc = http.NewResponseController(rw)
		// Not every ResponseWriter supports deadlines (httptest.ResponseRecorder).
		_ = w.rc.SetWriteDeadline(time.Time{})
	}
	return w
}

func (w *Writer) RequestID() string { return w.requestID }

// Emit writes one frame followed by a newline and flushes it. Once a write
// fails every later Emit returns the same error.
func (w *Writer) Emit(f models.Frame) error {
	if f.RequestID == "" {
		f.RequestID = w.requestID
	}
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if _, err := w.out.Write(line); err != nil {
		w.err = err
		return err
	}
	if w.rc != nil {
		if err := w.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			w.err = err
			return err
		}
	}
	return nil
}

// StartHeartbeat emits a keepalive frame every interval until Close.
func (w *Writer) StartHeartbeat(interval time.Duration) {
	if interval <= 0 || w.hbStop != nil {
		return
	}
	w.hbStop = make(chan struct{})
	w.hbDone = make(chan struct{})

	go func() {
		defer close(w.hbDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.hbStop:
				return
			case now := <-ticker.C:
				if err := w.Emit(models.Frame{Heartbeat: true, Timestamp: now.UnixMilli()}); err != nil {
					return
				}
			}
		}
	}()
}

// Close stops the heartbeat and waits for its goroutine to exit. It does not
// close the underlying writer.
func (w *Writer) Close() {
	w.once.Do(func() {
		if w.hbStop != nil {
			close(w.hbStop)
			<-w.hbDone
		}
	})
}
