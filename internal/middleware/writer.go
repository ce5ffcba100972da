// ABOUTME: ResponseWriter wrapper recording status, size and whether the response started
// ABOUTME: Shared by the recover, logging and metrics stages; supports hijacking for WebSocket

package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// StatusWriter records what has been written to the underlying ResponseWriter.
type StatusWriter struct {
	http.ResponseWriter
	status   int
	written  int64
	hijacked bool

	// onHeader runs once, right before the status line is sent.
	onHeader []func(http.Header)
}

// WrapWriter returns w as a *StatusWriter, reusing an existing wrapper.
func WrapWriter(w http.ResponseWriter) *StatusWriter {
	if sw, ok := w.(*StatusWriter); ok {
		return sw
	}
	return &StatusWriter{ResponseWriter: w}
}

// OnHeader registers fn to adjust headers just before they are sent.
func (w *StatusWriter) OnHeader(fn func(http.Header)) {
	w.onHeader = append(w.onHeader, fn)
}

func (w *StatusWriter) start(statusCode int) {
	if w.status != 0 {
		return
	}
	w.status = statusCode
	for _, fn := range w.onHeader {
		fn(w.Header())
	}
}

func (w *StatusWriter) WriteHeader(statusCode int) {
	w.start(statusCode)
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	w.start(http.StatusOK)
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Status returns the response status, 200 if nothing was written yet.
func (w *StatusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Started reports whether headers have been sent or the connection hijacked.
func (w *StatusWriter) Started() bool {
	return w.status != 0 || w.hijacked
}

// BytesWritten returns the number of body bytes written.
func (w *StatusWriter) BytesWritten() int64 {
	return w.written
}

// Hijacked reports whether the connection was taken over (WebSocket upgrade).
func (w *StatusWriter) Hijacked() bool {
	return w.hijacked
}

func (w *StatusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		w.hijacked = true
		if w.status == 0 {
			w.status = http.StatusSwitchingProtocols
		}
	}
	return conn, rw, err
}

func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
