// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package middleware

import (
	"bytes"
	"io"
	"net/http"
)

// ============================================================================
// Request body capture
// ============================================================================

// captureBody reads up to max bytes from body and returns the captured
// prefix plus a replacement stream that replays it before the unread
// remainder, so the handler still sees the complete body.
func captureBody(body io.ReadCloser, max int) (string, io.ReadCloser) {
	if body == nil || body == http.NoBody || max <= 0 {
		return "", body
	}

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(io.LimitReader(body, int64(max)))
	if buf.Len() == 0 {
		return "", body
	}

	return buf.String(), &replayBody{
		Reader: io.MultiReader(bytes.NewReader(buf.Bytes()), body),
		closer: body,
	}
}

// replayBody reads the captured prefix, then the rest of the original
// stream. Close goes to the original body so connection reuse still works.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (rb *replayBody) Close() error {
	return rb.closer.Close()
}

// ============================================================================
// Response buffering
// ============================================================================

// bufferingWriter holds the response until the handler returns, so the
// response record can include what was sent and an outer recovery can
// still replace a half-written response. Flush abandons buffering for
// streaming handlers: buffered output goes out immediately and later
// writes pass straight through.
type bufferingWriter struct {
	w           http.ResponseWriter
	buf         bytes.Buffer
	status      int
	size        int
	wroteHeader bool
	passthrough bool
}

func newBufferingWriter(w http.ResponseWriter) *bufferingWriter {
	return &bufferingWriter{w: w, status: http.StatusOK}
}

func (bw *bufferingWriter) Header() http.Header {
	return bw.w.Header()
}

// WriteHeader records the status. While buffering it is deferred until
// finish; a second call is ignored, matching net/http behavior.
func (bw *bufferingWriter) WriteHeader(code int) {
	if bw.wroteHeader {
		return
	}
	bw.wroteHeader = true
	bw.status = code
	if bw.passthrough {
		bw.w.WriteHeader(code)
	}
}

func (bw *bufferingWriter) Write(p []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	bw.size += len(p)
	if bw.passthrough {
		return bw.w.Write(p)
	}
	return bw.buf.Write(p)
}

// Flush switches to passthrough and forwards the flush, so server-sent
// events and other streaming responses work through the interceptor.
// The buffered prefix stays captured for the response record.
func (bw *bufferingWriter) Flush() {
	if !bw.passthrough {
		bw.passthrough = true
		if bw.wroteHeader {
			bw.w.WriteHeader(bw.status)
		}
		if bw.buf.Len() > 0 {
			_, _ = bw.w.Write(bw.buf.Bytes())
		}
	}
	if f, ok := bw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// finish copies the buffered response to the real writer. No-op when a
// Flush already switched to passthrough.
func (bw *bufferingWriter) finish() {
	if bw.passthrough {
		return
	}
	bw.passthrough = true
	if bw.wroteHeader {
		bw.w.WriteHeader(bw.status)
	}
	if bw.buf.Len() > 0 {
		_, _ = bw.w.Write(bw.buf.Bytes())
	}
}

// body returns up to max bytes of the captured response for logging.
func (bw *bufferingWriter) body(max int) string {
	b := bw.buf.Bytes()
	if max > 0 && len(b) > max {
		b = b[:max]
	}
	return string(b)
}
