// Package api implements the HTTP+WebSocket surface of spec section 4.8:
// a small set of read-only JSON endpoints over the relational store plus
// a live event stream over the broker.
//
// Grounded on internal/api/server.go's ServeMux() builder pattern,
// loggingResponseWriter/LoggingMiddleware, and writeJSONError (here
// generalized to spec section 6's {"error":{"code","message","field"}}
// body). Parameter validation follows the style of the teacher's
// showRadarObjectStats/generateReport: parse, validate, 400 on the first
// bad value with a field name attached.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/correlation"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

func nowUnix() float64 {
	return float64(time.Now().Unix())
}

// CORSConfig is the origin allow-list spec's CORS paragraph calls for.
type CORSConfig struct {
	AllowedOrigins []string
}

func (c CORSConfig) allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Server is the API component.
type Server struct {
	b    broker.Broker
	db   *store.DB
	cors CORSConfig
	log  telemetry.Logger

	mux *http.ServeMux
}

// NewServer constructs a Server. db and b are both required: db backs
// the read endpoints, b backs the WebSocket stream. /health reports the in-process broker as
// always reachable without probing b.
func NewServer(b broker.Broker, db *store.DB, cors CORSConfig) *Server {
	return &Server{b: b, db: db, cors: cors, log: telemetry.For("api")}
}

// ServeMux returns the handler tree, building it on first call so that
// callers (cmd/edge-monitor) can mount additional admin routes on the
// same mux before starting the listener.
func (s *Server) ServeMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/traffic/recent", s.handleRecent)
	mux.HandleFunc("/traffic/summary", s.handleSummary)
	mux.HandleFunc("/traffic/analytics", s.handleAnalytics)
	mux.HandleFunc("/traffic/search", s.handleSearch)
	mux.HandleFunc("/events/stream", s.handleEventsStream)
	s.mux = mux
	return mux
}

// Handler wraps ServeMux with the logging and CORS middleware, logging
// outermost: CORS short-circuits OPTIONS before the mux, and the
// logging middleware still records those preflight requests.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.corsMiddleware(s.ServeMux()))
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs method, path, status, and duration via the
// component's structured logger, in place of the teacher's
// log.Printf-with-ANSI-color LoggingMiddleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lrw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// corsMiddleware implements spec's "origin allow-list, preflight
// advertises GET, POST, OPTIONS" paragraph, following the standard
// net/http OPTIONS-short-circuit idiom.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.cors.allows(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID returns the caller-supplied X-Request-Id or a fresh one, per
// spec's "echoed in the X-Request-Id header if supplied, else generated".
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return correlation.NewRadarID()
}

func parseIntParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, errInvalidRange(name, min, max)
	}
	return v, nil
}

type invalidRangeError struct {
	field    string
	min, max int
}

func (e invalidRangeError) Error() string {
	return "must be between " + strconv.Itoa(e.min) + " and " + strconv.Itoa(e.max)
}

func errInvalidRange(field string, min, max int) error {
	return invalidRangeError{field: field, min: min, max: max}
}
