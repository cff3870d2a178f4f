package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
	"github.com/r3e-network/external-engine-broker/internal/httputil"
	"github.com/r3e-network/external-engine-broker/internal/logging"
	"github.com/r3e-network/external-engine-broker/internal/registry"
)

// AdminHandlers exposes the registration CRUD surface (spec §11.4/§11.8)
// behind the bearer-JWT middleware in admin_auth.go. It never touches the
// Broker: registrations are a separate concern from job rendezvous, and the
// Broker only ever depends on the narrower registry.Registry.Lookup.
type AdminHandlers struct {
	registry registry.AdminRegistry
	logger   *logging.Logger
}

// NewAdmin constructs AdminHandlers over the given admin registry.
func NewAdmin(reg registry.AdminRegistry, logger *logging.Logger) *AdminHandlers {
	return &AdminHandlers{registry: reg, logger: logger}
}

// Register wires the admin routes under a prefix already guarded by
// RequireAdminAuth.
func (h *AdminHandlers) Register(router *mux.Router) {
	router.HandleFunc("/api/external-engine/admin/registrations", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/api/external-engine/admin/registrations", h.List).Methods(http.MethodGet)
	router.HandleFunc("/api/external-engine/admin/registrations/{id}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/api/external-engine/admin/registrations/{id}/client-secret", h.RotateClientSecret).Methods(http.MethodPost)
	router.HandleFunc("/api/external-engine/admin/registrations/{id}/provider-secret", h.RotateProviderSecret).Methods(http.MethodPost)
}

type createRegistrationRequest struct {
	DisplayName string          `json:"displayName"`
	Params      registry.Params `json:"params"`
}

type registrationResponse struct {
	EngineID       string          `json:"id"`
	DisplayName    string          `json:"displayName"`
	Params         registry.Params `json:"params"`
	ClientSecret   string          `json:"clientSecret,omitempty"`
	ProviderSecret string          `json:"providerSecret,omitempty"`
}

// Create implements POST /api/external-engine/admin/registrations: an
// operator registers a new engine for their own account and receives both
// plaintext secrets exactly once.
func (h *AdminHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createRegistrationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	created, err := h.registry.Create(r.Context(), registry.NewRegistration{
		UserID:      adminUserID(r),
		DisplayName: req.DisplayName,
		Params:      req.Params,
	})
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registrationResponse{
		EngineID:       created.Registration.EngineID,
		DisplayName:    created.Registration.DisplayName,
		Params:         created.Registration.Params,
		ClientSecret:   created.ClientSecret,
		ProviderSecret: created.ProviderSecret,
	})
}

// List implements GET /api/external-engine/admin/registrations: every
// registration owned by the caller, without secrets.
func (h *AdminHandlers) List(w http.ResponseWriter, r *http.Request) {
	regs, err := h.registry.ListByUser(r.Context(), adminUserID(r))
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}

	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, registrationResponse{EngineID: reg.EngineID, DisplayName: reg.DisplayName, Params: reg.Params})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// Delete implements DELETE /api/external-engine/admin/registrations/{id}.
func (h *AdminHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	engineID := mux.Vars(r)["id"]
	if err := h.authorizeOwner(r, engineID); err != nil {
		writeBrokerError(w, r, err)
		return
	}
	if err := h.registry.Delete(r.Context(), engineID); err != nil {
		writeBrokerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateClientSecret implements POST .../{id}/client-secret: issues a fresh
// client secret, invalidating the previous one immediately.
func (h *AdminHandlers) RotateClientSecret(w http.ResponseWriter, r *http.Request) {
	engineID := mux.Vars(r)["id"]
	if err := h.authorizeOwner(r, engineID); err != nil {
		writeBrokerError(w, r, err)
		return
	}
	secret, err := h.registry.RotateClientSecret(r.Context(), engineID)
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"clientSecret": secret})
}

// RotateProviderSecret implements POST .../{id}/provider-secret: issues a
// fresh provider secret, invalidating the previous one immediately.
func (h *AdminHandlers) RotateProviderSecret(w http.ResponseWriter, r *http.Request) {
	engineID := mux.Vars(r)["id"]
	if err := h.authorizeOwner(r, engineID); err != nil {
		writeBrokerError(w, r, err)
		return
	}
	secret, err := h.registry.RotateProviderSecret(r.Context(), engineID)
	if err != nil {
		writeBrokerError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"providerSecret": secret})
}

// authorizeOwner confirms the caller's claimed user id owns engineID before
// any mutating admin operation, since RotateClientSecret/RotateProviderSecret
// and Delete take only an engine id and would otherwise let one operator
// act on another's registration.
func (h *AdminHandlers) authorizeOwner(r *http.Request, engineID string) error {
	reg, err := h.registry.Lookup(r.Context(), engineID)
	if err != nil {
		return err
	}
	if reg.UserID != adminUserID(r) {
		return apperrors.Forbidden("not the owner of this registration")
	}
	return nil
}
