// Package responsewriter wraps the response writer of a request so that the
// status code written by later handlers can be read back, and makes the
// wrapper available through the request context.
package responsewriter

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type responseWriterKey string

// ResponseWriterKey is the context key for the response writer.
const ResponseWriterKey responseWriterKey = "response-writer"

// Recorder remembers the status code of the response it wraps.
type Recorder struct {
	http.ResponseWriter

	status int
}

func (r *Recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status code, 0 when nothing was written yet.
func (r *Recorder) Status() int {
	return r.status
}

// Hijack hands the connection over, as needed by websocket upgrades.
func (r *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (r *Recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ResponseWriterMiddleware is an http.Handler middleware that wraps the
// response writer into a Recorder and injects it into the context.
func ResponseWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := w.(*Recorder)
		if !ok {
			rec = &Recorder{ResponseWriter: w}
		}
		ctx := context.WithValue(r.Context(), ResponseWriterKey, rec)
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// ResponseWriterFromContext is a helper function that retrieves the recorder
// from the context.
func ResponseWriterFromContext(ctx context.Context) (*Recorder, error) {
	rec, ok := ctx.Value(ResponseWriterKey).(*Recorder)
	if !ok {
		return nil, errors.New("response writer not found in context")
	}
	return rec, nil
}
