package supervisor

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/shikharish/pgmoneta/pkg/metrics"
)

// metricsHTTPServer serves the Prometheus text exposition format and the
// health/readiness/liveness endpoints over whatever net.Conn the owning
// ListenerGroup hands it — one request per connection, handled in its own
// goroutine, matching the metrics endpoint realization in SPEC_FULL.md §6.
type metricsHTTPServer struct {
	mux *http.ServeMux
}

func newMetricsHTTPServer() *metricsHTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return &metricsHTTPServer{mux: mux}
}

// handle serves exactly one HTTP/1.x request from conn using the standard
// library's connection-level primitives (no net/http.Server owns the
// listener, since the ListenerGroup's own Accept loop does).
func (m *metricsHTTPServer) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}

	rw := &connResponseWriter{conn: conn, header: make(http.Header)}
	m.mux.ServeHTTP(rw, req)
	rw.flush()
}

// connResponseWriter is a minimal http.ResponseWriter over a raw net.Conn.
type connResponseWriter struct {
	conn       net.Conn
	header     http.Header
	statusCode int
	wroteHead  bool
	buf        []byte
}

func (w *connResponseWriter) Header() http.Header { return w.header }

func (w *connResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHead {
		w.WriteHeader(http.StatusOK)
	}
	w.buf = append(w.buf, b...)
	return len(b), nil
}

func (w *connResponseWriter) WriteHeader(statusCode int) {
	if w.wroteHead {
		return
	}
	w.statusCode = statusCode
	w.wroteHead = true
}

func (w *connResponseWriter) flush() {
	if !w.wroteHead {
		w.WriteHeader(http.StatusOK)
	}

	w.header.Set("Content-Length", strconv.Itoa(len(w.buf)))

	bw := bufio.NewWriter(w.conn)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", w.statusCode, http.StatusText(w.statusCode))
	for key, values := range w.header {
		for _, v := range values {
			fmt.Fprintf(bw, "%s: %s\r\n", key, v)
		}
	}
	bw.WriteString("\r\n")
	bw.Write(w.buf)
	bw.Flush()
}
