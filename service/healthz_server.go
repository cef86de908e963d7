package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// ReadyFunc reports whether the process can serve test invocations.
type ReadyFunc func() error

// HealthzServer serves /healthz
type HealthzServer struct {
	log   log.Logger
	ready ReadyFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHealthzServer creates a new HealthzServer
func NewHealthzServer(logger log.Logger, ready ReadyFunc) *HealthzServer {
	return &HealthzServer{log: logger, ready: ready}
}

// Start binds addr and serves until Shutdown.
func (h *HealthzServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return h.serve(addr, c.Handler(mux))
}

func (h *HealthzServer) serve(addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler}
	h.mu.Lock()
	h.server = srv
	h.listener = ln
	h.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("healthz server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HealthzServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (h *HealthzServer) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	srv := h.server
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handle answers a health check
func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("received health check request", "path", r.URL.Path)
	status := http.StatusOK
	body := map[string]any{"ok": true}
	if h.ready != nil {
		if err := h.ready(); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"ok": false, "error": err.Error()}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
