package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Handler returns the routed API with the standard middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", s.route("/health", http.HandlerFunc(s.HandleHealth), false))
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}

	mux.Handle("/api/v1/compile", s.route("/api/v1/compile", http.HandlerFunc(s.HandleCompile), true))
	mux.Handle("/api/v1/jobs", s.route("/api/v1/jobs", http.HandlerFunc(s.handleJobs), true))
	mux.Handle("/api/v1/jobs/", s.route("/api/v1/jobs/{id}", http.HandlerFunc(s.handleJobDetail), true))

	return mux
}

// route applies logging, recovery and CORS, plus authentication when
// protected. pattern labels the request metrics.
func (s *Server) route(pattern string, h http.Handler, protected bool) http.Handler {
	mws := []Middleware{s.Logging(pattern), s.Recovery, CORS}
	if protected && s.auth != nil {
		mws = append(mws, s.auth.Handler)
	}
	return Chain(h, mws...)
}

// handleJobs handles /api/v1/jobs (list and create)
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.HandleListJobs(w, r)
	case http.MethodPost:
		s.HandleCreateJob(w, r)
	default:
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// handleJobDetail handles /api/v1/jobs/{id} (get and cancel)
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.HandleGetJob(w, r)
	case http.MethodDelete:
		s.HandleDeleteJob(w, r)
	default:
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// Logging logs every request and records its metrics under pattern
func (s *Server) Logging(pattern string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			s.metrics.RecordHTTPRequest(r.Method, pattern, wrapped.statusCode, duration)
			s.logger.Info("Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
			)
		})
	}
}

// CORS adds CORS headers
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		// Handle preflight request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recovery turns a handler panic into a 500 response
func (s *Server) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Handler panic",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				s.sendError(w, http.StatusInternalServerError, "internal_server_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Chain wraps handler so that the first middleware runs outermost
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
