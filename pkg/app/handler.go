package app

import (
	"encoding/json"
	"net/http"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const maxRequestBytes = 1 << 20

// RegistrationRequest is the body of both API calls. Email and subject fall back to the
// "email" and "sub" claims.
type RegistrationRequest struct {
	ContextID string         `json:"context_id"`
	Email     string         `json:"email,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Claims    map[string]any `json:"claims"`
}

func (r *RegistrationRequest) ToClaims() *claims.Claims {
	return claims.New(r.Email, r.Subject, claims.FromJSON(r.Claims))
}

type errorResponse struct {
	Error string `json:"error"`
}

// API adapts HTTP requests to the registration handler.
type API struct {
	handler *registration.Handler
	logger  *zerolog.Logger
}

func (a *API) createOrLink(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}

	user, err := a.handler.CreateOrLinkUser(r.Context(), req.ContextID, req.ToClaims())
	if err != nil {
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}

	if err := a.handler.UpdateUser(r.Context(), r.PathValue("id"), req.ContextID, req.ToClaims()); err != nil {
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request) (*RegistrationRequest, bool) {
	req := &RegistrationRequest{}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(req); err != nil {
		a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("invalid request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return nil, false
	}

	return req, true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("registration failed")
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})

		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// StatusCode maps registration errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, registration.ErrIneligibleCreate),
		errors.Is(err, registration.ErrIneligibleUpdate),
		errors.Is(err, registration.ErrCreationRefused):
		return http.StatusForbidden
	case errors.Is(err, registration.ErrUsernameConflict),
		errors.Is(err, registration.ErrAmbiguousMatch):
		return http.StatusConflict
	case errors.Is(err, registration.ErrNotFoundForUpdate):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
