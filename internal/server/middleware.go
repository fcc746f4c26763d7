package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemic/groqnode/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prometheus HTTP metrics. The route label is the matched mux pattern so
// conversation IDs in paths do not create new series.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groqnode",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groqnode",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds, excluding WebSocket sessions.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)
	wsSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "groqnode",
			Name:      "websocket_sessions_active",
			Help:      "Upgraded WebSocket connections currently open.",
		},
	)
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groqnode",
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected with 429, by limiter.",
		},
		[]string{"limiter"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, wsSessionsActive, rateLimitedTotal)
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type requestIDKey struct{}

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request and records the HTTP metrics.
// WebSocket upgrades are counted but stay out of the duration histogram;
// their session length is logged on close. Paths in skipPaths are not
// logged.
func LoggingMiddleware(logger *zap.Logger, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			upgrade := isWebSocketUpgrade(r)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			if upgrade {
				wsSessionsActive.Inc()
				defer wsSessionsActive.Dec()
			}
			next.ServeHTTP(sw, r)
			duration := time.Since(start)

			// ServeMux sets Pattern on the request it was handed.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", duration),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", RequestID(r.Context())),
			}
			if upgrade && sw.status == http.StatusSwitchingProtocols {
				logger.Info("websocket session closed", fields...)
				return
			}
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
			if !skip[r.URL.Path] {
				logger.Info("http request", fields...)
			}
		})
	}
}

// isWebSocketUpgrade reports whether r asks to switch to the WebSocket
// protocol.
func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

// SecurityHeadersMiddleware sets the headers every response carries.
// Responses hold conversation content, so nothing is cacheable.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Groqnode-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500 problem response.
// A panic after an upgrade or after headers were sent is only logged.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
				)
				if !sw.wroteHeader {
					InternalError(sw, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

// RateLimitMiddleware enforces the general per-client limit. Requests to
// paths in skipPaths are not limited.
func RateLimitMiddleware(rps float64, burst int, skipPaths []string) Middleware {
	limiter := newClientLimiter("general", rps, burst)
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			limiter.serve(w, r, next)
		})
	}
}

// UpstreamLimit wraps handlers that spend upstream API quota with a second,
// stricter per-client bucket. A non-positive rps disables it.
func UpstreamLimit(rps float64, burst int) func(http.HandlerFunc) http.HandlerFunc {
	if rps <= 0 {
		return func(h http.HandlerFunc) http.HandlerFunc { return h }
	}
	limiter := newClientLimiter("upstream", rps, burst)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			limiter.serve(w, r, h)
		}
	}
}

// maxTrackedClients bounds the limiter map; idle entries are swept when it
// fills.
const (
	maxTrackedClients = 10000
	clientIdleAfter   = 10 * time.Minute
)

// clientLimiter keeps one token bucket per client IP.
type clientLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(name string, rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		name:    name,
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

func (l *clientLimiter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if wait, ok := l.reserve(clientIP(r), time.Now()); !ok {
		rateLimitedTotal.WithLabelValues(l.name).Inc()
		RateLimited(w, wait, "rate limit exceeded", r.URL.Path)
		return
	}
	next.ServeHTTP(w, r)
}

// reserve takes a token for key. When none is available it returns how long
// until one will be, and takes nothing.
func (l *clientLimiter) reserve(key string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// sweep drops idle buckets. Must be called with l.mu held.
func (l *clientLimiter) sweep(now time.Time) {
	cutoff := now.Add(-clientIdleAfter)
	for key, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// clientIP extracts the client IP from the request.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusWriter records the response status. Unwrap exposes the underlying
// writer so http.ResponseController and websocket.Accept can reach its
// Hijacker and Flusher.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
