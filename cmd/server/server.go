package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avaropoint/wpsgate/internal/callback"
	"github.com/avaropoint/wpsgate/internal/version"
)

// maxCallbackBody caps inbound request bodies.
const maxCallbackBody = 1 << 20

// handlerTimeout bounds one asynchronous event handler run.
const handlerTimeout = 30 * time.Second

// EventHandler consumes accepted, non-duplicate events. It runs after the
// platform has been acknowledged.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *callback.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev *callback.Event) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev *callback.Event) error {
	return f(ctx, ev)
}

// Server is the callback HTTP front end.
type Server struct {
	processor *callback.Processor
	handler   EventHandler
	limiter   *ipRateLimiter
	gatherer  prometheus.Gatherer
	log       *zap.Logger
	started   time.Time

	wg sync.WaitGroup
}

// NewServer creates a Server. limiter and gatherer may be nil.
func NewServer(p *callback.Processor, h EventHandler, limiter *ipRateLimiter,
	gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	return &Server{
		processor: p,
		handler:   h,
		limiter:   limiter,
		gatherer:  gatherer,
		log:       log,
		started:   time.Now(),
	}
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	callbackHandler := s.limiter.middleware(http.HandlerFunc(s.handleCallback))
	mux.Handle("POST /event/callback", callbackHandler)
	mux.Handle("POST /webhook", callbackHandler)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleStatus)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.requestID(mux)
}

// Wait blocks until in-flight event handlers finish.
func (s *Server) Wait() { s.wg.Wait() }

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(zap.String("request_id", w.Header().Get("X-Request-Id")))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Code: http.StatusRequestEntityTooLarge, Msg: "Request Entity Too Large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Code: http.StatusBadRequest, Msg: "Invalid Body"})
		return
	}

	ev, err := s.processor.Process(r.Context(), r.Header, body)
	if err != nil {
		status := callback.StatusCode(err)
		if status == http.StatusInternalServerError {
			log.Error("callback processing failed", zap.Error(err))
		}
		writeJSON(w, status, response{Code: status, Msg: http.StatusText(status)})
		return
	}

	if ev.Kind == callback.KindChallenge {
		log.Info("subscription challenge answered")
		writeJSON(w, http.StatusOK, map[string]string{"challenge": ev.Challenge})
		return
	}

	if !ev.Duplicate && s.handler != nil {
		s.dispatch(log, ev)
	}
	writeJSON(w, http.StatusOK, response{Code: 0, Msg: "success"})
}

// dispatch runs the handler in the background so the platform gets its
// acknowledgement inside its delivery timeout.
func (s *Server) dispatch(log *zap.Logger, ev *callback.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := s.handler.HandleEvent(ctx, ev); err != nil {
			log.Error("event handler failed",
				zap.String("topic", ev.Topic), zap.String("message_id", ev.MessageID), zap.Error(err))
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "wpsgate",
		"version":    version.Version,
		"build_time": version.BuildTime,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}

// requestID tags each request with an id, reusing one supplied upstream.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
