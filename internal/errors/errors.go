package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Reason codes returned to clients. These are short machine-readable
// tokens suitable for programmatic branching, not prose.
const (
	ReasonKeyAndMachineRequired = "key & machineId required"
	ReasonTokenRequired         = "token required"
	ReasonKeyRequired           = "key required"
	ReasonJTIRequired           = "jti required"

	ReasonInvalidKey      = "invalid_key"
	ReasonRevoked         = "revoked"
	ReasonWrongProduct    = "wrong_product"
	ReasonMachineMismatch = "machine_mismatch"
	ReasonNotFound        = "not_found"
	ReasonAdminOnly       = "admin_only"

	ReasonMalformedToken       = "malformed_token"
	ReasonUnsupportedAlgorithm = "unsupported_algorithm"
	ReasonBadSignature         = "bad_signature"
	ReasonExpired              = "expired"
	ReasonNotYetValid          = "not_yet_valid"
)

// Sentinel policy errors surfaced by the license service.
var (
	ErrInvalidKey      = errors.New(ReasonInvalidKey)
	ErrRevoked         = errors.New(ReasonRevoked)
	ErrWrongProduct    = errors.New(ReasonWrongProduct)
	ErrMachineMismatch = errors.New(ReasonMachineMismatch)
	ErrNotFound        = errors.New(ReasonNotFound)

	ErrMalformedToken       = errors.New(ReasonMalformedToken)
	ErrUnsupportedAlgorithm = errors.New(ReasonUnsupportedAlgorithm)
	ErrBadSignature         = errors.New(ReasonBadSignature)
	ErrExpired              = errors.New(ReasonExpired)
	ErrNotYetValid          = errors.New(ReasonNotYetValid)

	// ErrMissingKeys indicates the signing keypair is absent from disk.
	// This is a configuration error and never maps to a policy reason.
	ErrMissingKeys = errors.New("missing RSA keys")
)

// Denial represents a structured denial response: {ok:false, reason}.
// It implements both error and render.Renderer so handlers can return
// it directly.
type Denial struct {
	StatusCode int    `json:"-"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason"`
}

// Error implements the error interface
func (d *Denial) Error() string {
	return d.Reason
}

// Render implements the render.Renderer interface for chi/render
func (d *Denial) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, d.StatusCode)
	return nil
}

// Deny creates a denial with the given HTTP status and reason code.
func Deny(status int, reason string) *Denial {
	return &Denial{StatusCode: status, OK: false, Reason: reason}
}

// BadRequest creates a 400 denial.
func BadRequest(reason string) *Denial {
	return Deny(http.StatusBadRequest, reason)
}

// Unauthorized creates the uniform 401 admin-gate denial.
func Unauthorized() *Denial {
	return Deny(http.StatusUnauthorized, ReasonAdminOnly)
}

// Forbidden creates a 403 denial.
func Forbidden(reason string) *Denial {
	return Deny(http.StatusForbidden, reason)
}

// Reason extracts the client-facing reason string from an error.
// Unknown internal errors collapse to a generic reason so that stack
// details never leak past the boundary.
func Reason(err error) string {
	var d *Denial
	if errors.As(err, &d) {
		return d.Reason
	}
	for _, sentinel := range []error{
		ErrInvalidKey, ErrRevoked, ErrWrongProduct, ErrMachineMismatch,
		ErrNotFound, ErrMalformedToken, ErrUnsupportedAlgorithm,
		ErrBadSignature, ErrExpired, ErrNotYetValid,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}

// MapServiceError converts a license service error to a renderable
// denial with the HTTP status the client contract requires.
func MapServiceError(err error) *Denial {
	switch {
	case errors.Is(err, ErrNotFound):
		return Deny(http.StatusNotFound, ReasonNotFound)
	case errors.Is(err, ErrMissingKeys):
		return Deny(http.StatusInternalServerError, "server_misconfigured")
	case errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrRevoked),
		errors.Is(err, ErrWrongProduct),
		errors.Is(err, ErrMachineMismatch),
		errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrUnsupportedAlgorithm),
		errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrNotYetValid):
		return Forbidden(Reason(err))
	default:
		return Deny(http.StatusInternalServerError, "internal_error")
	}
}
