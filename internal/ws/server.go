package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
)

// StatusFunc supplies the current service snapshot for the /status route.
type StatusFunc func() any

// Server exposes the websocket upgrade plus the operational routes.
type Server struct {
	hub    *Hub
	srv    *http.Server
	router *mux.Router
	log    *zap.Logger
}

func NewServer(addr string, hub *Hub, met *metrics.Metrics, status StatusFunc, log *zap.Logger) *Server {
	s := &Server{hub: hub, log: log.Named("http")}

	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ServeWS(hub, w, req)
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		if status == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, status())
	}).Methods(http.MethodGet)
	if met != nil {
		r.Handle("/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	}
}

// Pump forwards bus messages into the hub until ctx is cancelled or the
// subscription channel closes.
func Pump(ctx context.Context, hub *Hub, msgs <-chan kv.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			hub.BroadcastEvent(typeFromChannel(m.Channel), m.Payload)
		}
	}
}

// typeFromChannel strips the bus prefix: "websocket:new_token" -> "new_token".
func typeFromChannel(ch string) string {
	if i := strings.LastIndex(ch, ":"); i >= 0 {
		return ch[i+1:]
	}
	return ch
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
