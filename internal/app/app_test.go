package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/app"
	"github.com/marketlens/scraperd/internal/config"
)

// inMemoryConfig returns a valid configuration that needs no external
// backends, so NewApp can be exercised without Postgres, GCS, or Redis.
func inMemoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scraper.WorkerDir = t.TempDir()
	return cfg
}

func TestNewAppInMemoryProviders(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), inMemoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Service())
	require.NotNil(t, a.Dispatcher())
	require.NotNil(t, a.Handler())
}

func TestNewAppServesHealthz(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), inMemoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// Requests pass through the metrics middleware, so the collectors must be
// registered by NewApp itself, not left to the serve command.
func TestNewAppRegistersMetrics(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), inMemoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestNewAppLocalArtifacts(t *testing.T) {
	t.Parallel()

	cfg := inMemoryConfig(t)
	cfg.Artifacts.Provider = "local"
	cfg.Artifacts.LocalDir = t.TempDir()

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	a.Close()
}

func TestNewAppUnknownProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "store",
			mutate: func(c *config.Config) { c.Store.Provider = "etcd" },
			want:   "unknown store provider",
		},
		{
			name:   "artifacts",
			mutate: func(c *config.Config) { c.Artifacts.Provider = "s3" },
			want:   "unknown artifacts provider",
		},
		{
			name:   "sessions",
			mutate: func(c *config.Config) { c.Sessions.Provider = "memcached" },
			want:   "unknown sessions provider",
		},
		{
			name:   "notify",
			mutate: func(c *config.Config) { c.Notify.Provider = "kafka" },
			want:   "unknown notify provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := inMemoryConfig(t)
			tt.mutate(&cfg)

			_, err := app.NewApp(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
