package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
)

// Endpoint is the management endpoint of a target: an rpc server reachable
// in-process, over HTTP and over websocket.
type Endpoint struct {
	log    log.Logger
	server *rpc.Server

	mu         sync.Mutex
	namespaces map[string]struct{}
	httpServer *http.Server
	listener   net.Listener
}

// NewEndpoint creates an Endpoint with an empty rpc server
func NewEndpoint(logger log.Logger) *Endpoint {
	return &Endpoint{
		log:        logger.New("component", "endpoint"),
		server:     rpc.NewServer(),
		namespaces: make(map[string]struct{}),
	}
}

// Register serves each API under its namespace. A namespace can only be
// registered once.
func (e *Endpoint) Register(apis ...rpc.API) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, api := range apis {
		if _, exists := e.namespaces[api.Namespace]; exists {
			return fmt.Errorf("namespace %s already registered", api.Namespace)
		}
		if err := e.server.RegisterName(api.Namespace, api.Service); err != nil {
			return fmt.Errorf("failed to register %s: %w", api.Namespace, err)
		}
		e.namespaces[api.Namespace] = struct{}{}
		e.log.Info("registered api", "namespace", api.Namespace)
	}
	return nil
}

// IsRegistered reports whether namespace is served
func (e *Endpoint) IsRegistered(namespace string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.namespaces[namespace]
	return ok
}

func (e *Endpoint) Namespaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.namespaces))
	for ns := range e.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Handler routes HTTP JSON-RPC, websocket JSON-RPC and health checks.
func (e *Endpoint) Handler(corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	router := mux.NewRouter()
	router.HandleFunc("/healthz", e.handleHealthz).Methods(http.MethodGet)
	router.Handle(WebsocketPath, e.server.WebsocketHandler(corsOrigins))
	router.Handle("/", e.server).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(router)
}

func (e *Endpoint) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"namespaces":%d}`, len(e.Namespaces()))
}

// Start listens on host:port and serves Handler until Stop. Port 0 picks a
// free port.
func (e *Endpoint) Start(host string, port int, corsOrigins []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.httpServer != nil {
		return errors.New("endpoint already started")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	e.listener = listener
	srv := &http.Server{
		Handler:           e.Handler(corsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.httpServer = srv

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("endpoint stopped serving", "err", err)
			metrics.RecordErrorDetails("endpoint_serve", err)
		}
	}()
	e.log.Info("endpoint started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// URL returns the websocket address clients dial in REMOTE mode.
func (e *Endpoint) URL() string {
	addr := e.Addr()
	if addr == nil {
		return ""
	}
	return "ws://" + addr.String() + WebsocketPath
}

// DialInProc connects to the endpoint without a network.
func (e *Endpoint) DialInProc() *rpc.Client {
	return rpc.DialInProc(e.server)
}

// Stop shuts down the HTTP listener and the rpc server
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	srv := e.httpServer
	e.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	e.server.Stop()
	e.log.Info("endpoint stopped")
	return err
}
