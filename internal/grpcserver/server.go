// Package grpcserver exposes the standard gRPC health service, reporting one
// serving status per record store domain.
package grpcserver

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

const defaultCheckTimeout = 5 * time.Second

type Server struct {
	Store   recordstore.Store
	Domains []models.Domain
	Timeout time.Duration

	health *health.Server
	logger *logrus.Logger

	mu   sync.Mutex
	last map[models.DomainName]error
}

func NewServer(store recordstore.Store, domains []models.Domain, timeout time.Duration, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	s := &Server{
		Store:   store,
		Domains: domains,
		Timeout: timeout,
		health:  health.NewServer(),
		logger:  logger,
		last:    make(map[models.DomainName]error),
	}
	// unknown until the first check
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, d := range domains {
		s.health.SetServingStatus(string(d.Name), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Register attaches the health service to g.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// Health returns the underlying health service.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// CheckDomains lists the collections of every domain concurrently and updates the
// serving status of each. The overall service ("") serves only when every
// domain does. The returned map holds the failing domains.
func (s *Server) CheckDomains(ctx context.Context) map[models.DomainName]error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[models.DomainName]error)
	)
	for _, d := range s.Domains {
		wg.Add(1)
		go func(d models.Domain) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.Timeout)
			defer cancel()

			status := healthpb.HealthCheckResponse_SERVING
			if _, err := s.Store.ListCollections(pctx, d); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				mu.Lock()
				failed[d.Name] = err
				mu.Unlock()
			}
			s.health.SetServingStatus(string(d.Name), status)
		}(d)
	}
	wg.Wait()

	overall := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)

	s.mu.Lock()
	for _, d := range s.Domains {
		prev, wasFailing := s.last[d.Name]
		cur, failing := failed[d.Name]
		switch {
		case failing && !wasFailing:
			s.logger.WithField("domain", d.Name).WithError(cur).Warn("domain not serving")
		case !failing && wasFailing:
			s.logger.WithField("domain", d.Name).WithError(prev).Info("domain serving again")
		}
	}
	s.last = failed
	s.mu.Unlock()

	return failed
}

// Run checks immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, every time.Duration) {
	s.CheckDomains(ctx)
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			s.CheckDomains(ctx)
		}
	}
}
