// Package gzippedhttp adds transparent gzip support to the HTTP stack:
// a response writer that compresses for clients that accept it, and a
// request-body reader that inflates gzip-encoded payloads.
package gzippedhttp

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

var writerPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// InflatingReader wraps an io.ReadCloser carrying gzip-compressed data and
// exposes the decompressed stream.
type InflatingReader struct {
	source   io.ReadCloser
	inflated *gzip.Reader
}

// NewInflatingReader returns a reader that inflates the gzip stream held by
// the given body.
func NewInflatingReader(body io.ReadCloser) (*InflatingReader, error) {
	inflated, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}

	return &InflatingReader{
		source:   body,
		inflated: inflated,
	}, nil
}

// Read reads decompressed bytes from the wrapped stream.
func (r *InflatingReader) Read(p []byte) (int, error) {
	return r.inflated.Read(p)
}

// Close closes both the gzip reader and the wrapped body.
func (r *InflatingReader) Close() error {
	if err := r.source.Close(); err != nil {
		return err
	}

	return r.inflated.Close()
}

// DeflatingResponseWriter wraps http.ResponseWriter and compresses the
// response body with gzip.
type DeflatingResponseWriter struct {
	response http.ResponseWriter
	deflated *gzip.Writer
}

// NewDeflatingResponseWriter returns a writer whose output is compressed
// before reaching the given http.ResponseWriter.
func NewDeflatingResponseWriter(response http.ResponseWriter) *DeflatingResponseWriter {
	deflated := writerPool.Get().(*gzip.Writer)
	deflated.Reset(response)

	return &DeflatingResponseWriter{
		response: response,
		deflated: deflated,
	}
}

// Header returns the headers of the wrapped response.
func (w *DeflatingResponseWriter) Header() http.Header {
	return w.response.Header()
}

// WriteHeader writes the status code; successful responses are marked as
// gzip-encoded.
func (w *DeflatingResponseWriter) WriteHeader(statusCode int) {
	if statusCode < 300 {
		w.response.Header().Set("Content-Encoding", "gzip")
	}
	w.response.WriteHeader(statusCode)
}

// Write compresses p into the response body.
func (w *DeflatingResponseWriter) Write(p []byte) (int, error) {
	return w.deflated.Write(p)
}

// Close flushes the compressor and returns it to the pool.
func (w *DeflatingResponseWriter) Close() error {
	if err := w.deflated.Close(); err != nil {
		return err
	}
	writerPool.Put(w.deflated)

	return nil
}

// GzipResponse compresses responses for clients whose Accept-Encoding
// includes gzip.
func GzipResponse(next http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		finalResponse := response

		if strings.Contains(request.Header.Get("Accept-Encoding"), "gzip") {
			compressing := NewDeflatingResponseWriter(response)
			finalResponse = compressing
			defer compressing.Close()
		}

		next.ServeHTTP(finalResponse, request)
	}

	return http.HandlerFunc(middleware)
}

// UngzipRequest replaces a gzip-encoded request body with its inflated
// stream before the request reaches the next handler.
func UngzipRequest(next http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if strings.Contains(request.Header.Get("Content-Encoding"), "gzip") {
			inflating, err := NewInflatingReader(request.Body)
			if err != nil {
				response.WriteHeader(http.StatusInternalServerError)

				return
			}
			request.Body = inflating
			defer inflating.Close()
		}

		next.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
