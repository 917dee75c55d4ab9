package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey string

const requestLoggerKey contextKey = "httpserver.request.logger"

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the status and size written by a handler while
// still letting the WebSocket upgrade hijack the connection.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Status() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("httpserver: response writer does not support hijacking")
}

func newRequestDuration() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fecbench",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"route", "code"})
}

// routeLabel bounds the route label to the registered endpoints.
func routeLabel(path string) string {
	switch {
	case path == "/" || path == "/index.html":
		return "/"
	case strings.HasPrefix(path, "/debug/pprof"):
		return "/debug/pprof"
	case strings.HasPrefix(path, "/api/"):
		switch path {
		case "/api/summary", "/api/iterations", "/api/rows", "/api/devices":
			return path
		}
		return "/api"
	}
	switch path {
	case "/healthz", "/readyz", "/version", "/metrics", "/ws", "/api":
		return path
	}
	return "static"
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		logger := s.logger.With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		if remote := r.RemoteAddr; remote != "" {
			logger = logger.With("remote_addr", remote)
		}

		ctx := context.WithValue(r.Context(), requestLoggerKey, logger)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		status := rec.Status()
		route := routeLabel(r.URL.Path)
		if s.requestDuration != nil && route != "/ws" {
			s.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		}

		logger.Log(ctx, accessLogLevel(route, status), "request complete",
			"status", status,
			"duration", elapsed,
			"bytes", rec.bytes,
		)
	})
}

// accessLogLevel keeps probes out of the info log and raises failures.
func accessLogLevel(route string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case route == "/healthz" || route == "/readyz" || route == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return s.logger
}
