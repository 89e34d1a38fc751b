// Package responsewriter wraps http.ResponseWriter to record what a handler
// wrote while keeping the optional interfaces net/http relies on.
package responsewriter

import (
	"io"
	"net/http"
)

// Recorder captures the status code and the number of body bytes written.
// The zero status means the handler never called WriteHeader explicitly.
type Recorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int
}

// NewRecorder wraps w.
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w}
}

// Unwrap returns the original ResponseWriter, used by http.ResponseController.
func (rec *Recorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// WriteHeader records the first status code and forwards every call.
func (rec *Recorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

// Write records an implicit 200 if no status was set and counts the bytes
// the underlying writer accepted.
func (rec *Recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytesWritten += n
	return n, err
}

// ReadFrom keeps the sendfile fast path of the underlying writer.
func (rec *Recorder) ReadFrom(r io.Reader) (int64, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	var n int64
	var err error
	if rf, ok := rec.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(r)
	} else {
		n, err = io.Copy(rec.ResponseWriter, r)
	}
	rec.bytesWritten += int(n)
	return n, err
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (rec *Recorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Status returns the recorded status, defaulting to 200 when nothing was written.
func (rec *Recorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// BytesWritten returns the number of body bytes passed to the client.
func (rec *Recorder) BytesWritten() int {
	return rec.bytesWritten
}

var (
	_ http.Flusher  = (*Recorder)(nil)
	_ io.ReaderFrom = (*Recorder)(nil)
)
