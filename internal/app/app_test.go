package app

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/config"
	"github.com/rpattn/stockimport/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, burst int) http.Handler {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.RateLimit.UploadsPerSecond = 0.001
	cfg.RateLimit.Burst = burst
	cfg.Resilience.BreakerEnabled = false

	pipeline, err := NewPipeline(cfg, MemoryStores(memory.NewStore()), nil)
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)
	return Router(cfg, pipeline, nil)
}

func upload(t *testing.T, router http.Handler, orgID uuid.UUID) int {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("importType", "GRN"))
	part, err := writer.CreateFormFile("file", "receipts.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("GRN No,Item Code,Qty,Rate,Date\nGRN-1,RM-1,10,5,2024-04-02\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(auth.OrganizationHeader, orgID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, 5)
	orgID := uuid.New()
	require.Equal(t, http.StatusCreated, upload(t, router, orgID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockimport_uploads_total")

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(auth.OrganizationHeader, orgID.String())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRateLimitsUploads(t *testing.T) {
	router := newTestRouter(t, 1)
	orgID := uuid.New()

	assert.Equal(t, http.StatusCreated, upload(t, router, orgID))
	assert.Equal(t, http.StatusTooManyRequests, upload(t, router, orgID))

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(auth.OrganizationHeader, orgID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "listing is not rate limited")
}
