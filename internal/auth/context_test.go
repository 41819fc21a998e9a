package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforceOrganizationScope(t *testing.T) {
	org := uuid.New()
	assert.Error(t, EnforceOrganizationScope(context.Background(), uuid.Nil))
	assert.NoError(t, EnforceOrganizationScope(context.Background(), org))

	scoped := ContextWithOrganizationID(context.Background(), org)
	assert.NoError(t, EnforceOrganizationScope(scoped, org))
	assert.Error(t, EnforceOrganizationScope(scoped, uuid.New()))
}

func TestMiddlewareReadsHeaders(t *testing.T) {
	org := uuid.New()
	var gotOrg uuid.UUID
	var gotActor string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, _ = OrganizationIDFromContext(r.Context())
		gotActor, _ = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(OrganizationHeader, org.String())
	req.Header.Set(UserHeader, " alice ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, org, gotOrg)
	assert.Equal(t, "alice", gotActor)

	req = httptest.NewRequest(http.MethodGet, "/imports", nil)
	req.Header.Set(OrganizationHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
