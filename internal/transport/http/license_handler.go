package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "hashlic/internal/errors"
	"hashlic/internal/services"
	"hashlic/internal/token"
)

// LicenseHandler handles the public activation and validation endpoints
type LicenseHandler struct {
	service  *services.LicenseService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// ActivateRequest is the activation request payload
type ActivateRequest struct {
	Key       string `json:"key" validate:"required"`
	MachineID string `json:"machineId" validate:"required"`
	Product   string `json:"product,omitempty"`
}

// ValidateRequest is the validation request payload
type ValidateRequest struct {
	Token string `json:"token" validate:"required"`
}

// ActivateResponse carries the freshly minted token
type ActivateResponse struct {
	Token string `json:"token"`
}

// ValidateResponse is the positive validation verdict
type ValidateResponse struct {
	OK      bool          `json:"ok"`
	Payload *token.Claims `json:"payload"`
}

// Routes returns a chi router for the public license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	return r
}

// Activate handles POST /activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &ActivateRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyAndMachineRequired))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyAndMachineRequired))
		return
	}

	tok, err := h.service.Activate(ctx, services.ActivateRequest{
		Key:       data.Key,
		MachineID: data.MachineID,
		Product:   data.Product,
	})
	if err != nil {
		render.Render(w, r, apperrors.MapServiceError(err))
		return
	}

	render.JSON(w, r, ActivateResponse{Token: tok})
}

// Validate handles POST /validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &ValidateRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonTokenRequired))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonTokenRequired))
		return
	}

	claims, err := h.service.Validate(ctx, data.Token)
	if err != nil {
		render.Render(w, r, apperrors.MapServiceError(err))
		return
	}

	render.JSON(w, r, ValidateResponse{OK: true, Payload: claims})
}
