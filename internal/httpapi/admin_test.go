package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
	"github.com/r3e-network/external-engine-broker/internal/logging"
	"github.com/r3e-network/external-engine-broker/internal/registry"
)

func httpBody(s string) io.Reader {
	return strings.NewReader(s)
}

type fakeAdminRegistry struct {
	regs map[string]*registry.EngineRegistration
}

func newFakeAdminRegistry() *fakeAdminRegistry {
	return &fakeAdminRegistry{regs: map[string]*registry.EngineRegistration{}}
}

func (f *fakeAdminRegistry) Lookup(_ context.Context, engineID string) (*registry.EngineRegistration, error) {
	reg, ok := f.regs[engineID]
	if !ok {
		return nil, apperrors.NotFound("engine", engineID)
	}
	return reg, nil
}

func (f *fakeAdminRegistry) Create(_ context.Context, in registry.NewRegistration) (*registry.CreatedRegistration, error) {
	reg := &registry.EngineRegistration{EngineID: "engine-1", UserID: in.UserID, DisplayName: in.DisplayName, Params: in.Params}
	f.regs[reg.EngineID] = reg
	return &registry.CreatedRegistration{Registration: reg, ClientSecret: "cs", ProviderSecret: "ps"}, nil
}

func (f *fakeAdminRegistry) RotateClientSecret(_ context.Context, engineID string) (string, error) {
	if _, ok := f.regs[engineID]; !ok {
		return "", apperrors.NotFound("engine", engineID)
	}
	return "new-client-secret", nil
}

func (f *fakeAdminRegistry) RotateProviderSecret(_ context.Context, engineID string) (string, error) {
	if _, ok := f.regs[engineID]; !ok {
		return "", apperrors.NotFound("engine", engineID)
	}
	return "new-provider-secret", nil
}

func (f *fakeAdminRegistry) Delete(_ context.Context, engineID string) error {
	if _, ok := f.regs[engineID]; !ok {
		return apperrors.NotFound("engine", engineID)
	}
	delete(f.regs, engineID)
	return nil
}

func (f *fakeAdminRegistry) ListByUser(_ context.Context, userID string) ([]registry.EngineRegistration, error) {
	var out []registry.EngineRegistration
	for _, reg := range f.regs {
		if reg.UserID == userID {
			out = append(out, *reg)
		}
	}
	return out, nil
}

func withAdminUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), adminUserIDKey, userID))
}

func newAdminRouter(h *AdminHandlers) *mux.Router {
	router := mux.NewRouter()
	h.Register(router)
	return router
}

func TestAdminCreate_ReturnsPlaintextSecretsOnce(t *testing.T) {
	reg := newFakeAdminRegistry()
	h := NewAdmin(reg, logging.New("admin-test", "panic", "json"))
	router := newAdminRouter(h)

	body := `{"displayName":"my engine","params":{"variant":"standard","maxThreads":4}}`
	req := withAdminUser(httptest.NewRequest(http.MethodPost, "/api/external-engine/admin/registrations", httpBody(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp registrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cs", resp.ClientSecret)
	assert.Equal(t, "ps", resp.ProviderSecret)
}

func TestAdminDelete_ForbiddenForNonOwner(t *testing.T) {
	reg := newFakeAdminRegistry()
	reg.regs["engine-1"] = &registry.EngineRegistration{EngineID: "engine-1", UserID: "owner"}
	h := NewAdmin(reg, logging.New("admin-test", "panic", "json"))
	router := newAdminRouter(h)

	req := withAdminUser(httptest.NewRequest(http.MethodDelete, "/api/external-engine/admin/registrations/engine-1", nil), "not-the-owner")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, stillExists := reg.regs["engine-1"]
	assert.True(t, stillExists)
}

func TestAdminDelete_SucceedsForOwner(t *testing.T) {
	reg := newFakeAdminRegistry()
	reg.regs["engine-1"] = &registry.EngineRegistration{EngineID: "engine-1", UserID: "owner"}
	h := NewAdmin(reg, logging.New("admin-test", "panic", "json"))
	router := newAdminRouter(h)

	req := withAdminUser(httptest.NewRequest(http.MethodDelete, "/api/external-engine/admin/registrations/engine-1", nil), "owner")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, stillExists := reg.regs["engine-1"]
	assert.False(t, stillExists)
}

func TestAdminRotateClientSecret_ReturnsFreshSecret(t *testing.T) {
	reg := newFakeAdminRegistry()
	reg.regs["engine-1"] = &registry.EngineRegistration{EngineID: "engine-1", UserID: "owner"}
	h := NewAdmin(reg, logging.New("admin-test", "panic", "json"))
	router := newAdminRouter(h)

	req := withAdminUser(httptest.NewRequest(http.MethodPost, "/api/external-engine/admin/registrations/engine-1/client-secret", nil), "owner")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "new-client-secret", resp["clientSecret"])
}

func TestAdminList_OnlyReturnsCallersRegistrations(t *testing.T) {
	reg := newFakeAdminRegistry()
	reg.regs["engine-1"] = &registry.EngineRegistration{EngineID: "engine-1", UserID: "owner"}
	reg.regs["engine-2"] = &registry.EngineRegistration{EngineID: "engine-2", UserID: "someone-else"}
	h := NewAdmin(reg, logging.New("admin-test", "panic", "json"))
	router := newAdminRouter(h)

	req := withAdminUser(httptest.NewRequest(http.MethodGet, "/api/external-engine/admin/registrations", nil), "owner")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []registrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "engine-1", resp[0].EngineID)
}
