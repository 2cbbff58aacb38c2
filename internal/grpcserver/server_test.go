package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestCheckDomainsReportsPerDomain(t *testing.T) {
	movies := models.Domain{Name: models.DomainMovies, APIKey: "k", WorkspaceID: "w1"}
	broken := models.Domain{Name: models.DomainHistory} // no credentials

	s := NewServer(recordstore.NewMemStore(), []models.Domain{movies, broken}, time.Second, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, "movies"))

	failed := s.CheckDomains(context.Background())
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[models.DomainHistory], recordstore.ErrConfiguration))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, "movies"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, "history"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))
}

func TestCheckDomainsAllServing(t *testing.T) {
	domains := []models.Domain{
		{Name: models.DomainMovies, APIKey: "k", WorkspaceID: "w1"},
		{Name: models.DomainSeries, APIKey: "k", WorkspaceID: "w2"},
	}
	s := NewServer(recordstore.NewMemStore(), domains, 0, nil)
	assert.Empty(t, s.CheckDomains(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ""))
}
