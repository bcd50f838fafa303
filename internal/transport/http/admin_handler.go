package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "hashlic/internal/errors"
	"hashlic/internal/middleware"
	"hashlic/internal/services"
	"hashlic/internal/store"
)

// AdminHandler exposes the privileged CRUD surface over license records
// and the revocation set. Every route is behind the admin gate.
type AdminHandler struct {
	service  *services.LicenseService
	gate     *middleware.AdminGate
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *services.LicenseService, gate *middleware.AdminGate, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		gate:     gate,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// UpsertLicenseRequest patches or creates a license record. Pointer
// fields distinguish "absent" from "set to empty".
type UpsertLicenseRequest struct {
	Key      string  `json:"key" validate:"required"`
	Features *string `json:"features,omitempty"`
	Product  *string `json:"product,omitempty"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active revoked"`
}

// RevokeKeyRequest names the license key to revoke
type RevokeKeyRequest struct {
	Key string `json:"key" validate:"required"`
}

// RevokeJTIRequest names the token identifier to revoke
type RevokeJTIRequest struct {
	JTI string `json:"jti" validate:"required"`
}

// UpsertLicenseResponse returns the resulting record
type UpsertLicenseResponse struct {
	OK      bool                 `json:"ok"`
	License *store.LicenseRecord `json:"license"`
}

// OKResponse is the generic success acknowledgment
type OKResponse struct {
	OK bool `json:"ok"`
}

// Routes returns a chi router for the admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.gate.Handler)

	r.Get("/db", h.Dump)
	r.Post("/license", h.UpsertLicense)
	r.Post("/revoke-key", h.RevokeKey)
	r.Post("/revoke-jti", h.RevokeJTI)
	r.Get("/public-xml", h.PublicKeyXML)

	return r
}

// Dump handles GET /admin/db
func (h *AdminHandler) Dump(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Document(r.Context()))
}

// UpsertLicense handles POST /admin/license
func (h *AdminHandler) UpsertLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &UpsertLicenseRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyRequired))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyRequired))
		return
	}

	lic, err := h.service.UpsertLicense(ctx, services.UpsertRequest{
		Key:      data.Key,
		Features: data.Features,
		Product:  data.Product,
		Status:   data.Status,
	})
	if err != nil {
		render.Render(w, r, apperrors.MapServiceError(err))
		return
	}

	render.JSON(w, r, UpsertLicenseResponse{OK: true, License: lic})
}

// RevokeKey handles POST /admin/revoke-key
func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &RevokeKeyRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyRequired))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonKeyRequired))
		return
	}

	if err := h.service.RevokeKey(ctx, data.Key); err != nil {
		render.Render(w, r, apperrors.MapServiceError(err))
		return
	}

	render.JSON(w, r, OKResponse{OK: true})
}

// RevokeJTI handles POST /admin/revoke-jti
func (h *AdminHandler) RevokeJTI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &RevokeJTIRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonJTIRequired))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apperrors.BadRequest(apperrors.ReasonJTIRequired))
		return
	}

	if err := h.service.RevokeJTI(ctx, data.JTI); err != nil {
		render.Render(w, r, apperrors.MapServiceError(err))
		return
	}

	render.JSON(w, r, OKResponse{OK: true})
}

// PublicKeyXML handles GET /admin/public-xml. The body is plain text:
// the RSAKeyValue modulus/exponent form of the verification key.
func (h *AdminHandler) PublicKeyXML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(h.service.PublicKeyXML()))
}
