// Package service runs the auxiliary HTTP servers of an op-harness process.
package service

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080

	MetricsHost = "0.0.0.0"
	MetricsPort = 7300
)

// Config holds the configuration for the auxiliary servers
type Config struct {
	HealthzEnabled bool
	HealthzHost    string
	HealthzPort    int

	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

// Service runs the optional healthz and metrics servers
type Service struct {
	log     log.Logger
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

// New creates a new Service. ready backs the healthz endpoint and may be nil
func New(cfg Config, logger log.Logger, ready ReadyFunc) *Service {
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("component", "service")
	return &Service{
		log:     logger,
		cfg:     cfg,
		Healthz: NewHealthzServer(logger, ready),
		Metrics: NewMetricsServer(logger),
	}
}

// Start starts every enabled server
func (s *Service) Start() error {
	s.log.Info("service starting")

	if s.cfg.HealthzEnabled {
		addr := net.JoinHostPort(s.cfg.HealthzHost, strconv.Itoa(s.cfg.HealthzPort))
		if err := s.Healthz.Start(addr); err != nil {
			metrics.RecordErrorDetails("healthz_start", err)
			return err
		}
		s.log.Info("started healthz server", "addr", s.Healthz.Addr())
	}

	if s.cfg.MetricsEnabled {
		addr := net.JoinHostPort(s.cfg.MetricsHost, strconv.Itoa(s.cfg.MetricsPort))
		if err := s.Metrics.Start(addr); err != nil {
			metrics.RecordErrorDetails("metrics_start", err)
			return errors.Join(err, s.Healthz.Shutdown(context.Background()))
		}
		s.log.Info("started metrics server", "addr", s.Metrics.Addr())
	}

	s.log.Info("service started")
	return nil
}

// Shutdown stops every started server
func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	healthzErr := s.Healthz.Shutdown(ctx)
	s.log.Info("healthz stopped")

	metricsErr := s.Metrics.Shutdown(ctx)
	s.log.Info("metrics stopped")

	return errors.Join(healthzErr, metricsErr)
}
