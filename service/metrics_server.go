package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics.
type MetricsServer struct {
	log log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewMetricsServer creates a new MetricsServer
func NewMetricsServer(logger log.Logger) *MetricsServer {
	return &MetricsServer{log: logger}
}

// Start binds addr and serves until Shutdown
func (m *MetricsServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	m.mu.Lock()
	m.server = srv
	m.listener = ln
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("metrics server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (m *MetricsServer) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
