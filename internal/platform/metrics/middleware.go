package metrics

import (
	"net/http"
)

// countingWriter records the status code and body size of a response.
type countingWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *countingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// RequestMiddleware returns chi-compatible middleware that records request
// count, error count (status >= 400) and response bytes in the given Metrics.
// Requests for a path listed in skip, such as the scrape endpoint, are not
// counted.
func RequestMiddleware(m *Metrics, skip ...string) func(next http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			cw := &countingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			m.IncRequests()
			m.AddBytesServed(cw.size)
			if cw.status >= 400 {
				m.IncErrors()
			}
		})
	}
}
