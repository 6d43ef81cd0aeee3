package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

var gzipPool = sync.Pool{
	New: func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return gz
	},
}

// Compression gzip-сжатие ответов API.
// Пропускает HEAD, WebSocket upgrade и клиентов без gzip в Accept-Encoding.
func Compression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Method == http.MethodHead || isWebSocketUpgrade(r) || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}

// acceptsGzip разбирает Accept-Encoding с учетом q=0
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") && strings.TrimSpace(coding) != "*" {
			continue
		}
		q := strings.TrimSpace(params)
		if !strings.HasPrefix(q, "q=") {
			return true
		}
		weight, err := strconv.ParseFloat(strings.TrimPrefix(q, "q="), 64)
		return err == nil && weight > 0
	}
	return false
}

// compressWriter решает про сжатие на первом WriteHeader:
// ответы без тела и уже закодированные отдаются как есть.
type compressWriter struct {
	http.ResponseWriter
	gz      *gzip.Writer
	decided bool
}

func (cw *compressWriter) WriteHeader(status int) {
	if cw.decided {
		return
	}
	cw.decided = true

	h := cw.Header()
	if status != http.StatusNoContent && status != http.StatusNotModified && h.Get("Content-Encoding") == "" {
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		cw.gz = gzipPool.Get().(*gzip.Writer)
		cw.gz.Reset(cw.ResponseWriter)
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.decided {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.gz == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.gz.Write(b)
}

func (cw *compressWriter) finish() {
	if cw.gz == nil {
		return
	}
	_ = cw.gz.Close()
	cw.gz.Reset(io.Discard)
	gzipPool.Put(cw.gz)
	cw.gz = nil
}
