package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	apperrors "hashlic/internal/errors"
	"hashlic/internal/keystore"
	"hashlic/internal/store"
	"hashlic/internal/token"
)

// LicenseService orchestrates activation, validation and the
// administrative operations over the license repository and token
// service. All repository mutations run inside store.Update, which
// serializes the load-mutate-save sequence.
type LicenseService struct {
	store    *store.Store
	tokens   *token.Service
	keys     *keystore.Store
	tokenTTL time.Duration
	product  string
	logger   *slog.Logger
	tracer   trace.Tracer

	activations metric.Int64Counter
	validations metric.Int64Counter
}

// Option configures optional service dependencies.
type Option func(*LicenseService)

// WithObservability attaches a tracer and meter to the service.
func WithObservability(tracer trace.Tracer, meter metric.Meter) Option {
	return func(s *LicenseService) {
		s.tracer = tracer
		if meter != nil {
			s.activations, _ = meter.Int64Counter("license_activations_total",
				metric.WithDescription("License activation attempts by result"))
			s.validations, _ = meter.Int64Counter("license_validations_total",
				metric.WithDescription("Token validation attempts by result"))
		}
	}
}

// NewLicenseService creates the service.
func NewLicenseService(st *store.Store, tokens *token.Service, keys *keystore.Store, tokenTTL time.Duration, defaultProduct string, logger *slog.Logger, opts ...Option) *LicenseService {
	s := &LicenseService{
		store:    st,
		tokens:   tokens,
		keys:     keys,
		tokenTTL: tokenTTL,
		product:  defaultProduct,
		logger:   logger.With(slog.String("service", "license")),
		tracer:   noop.NewTracerProvider().Tracer("license"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActivateRequest is the input of an activation call.
type ActivateRequest struct {
	Key       string
	MachineID string
	Product   string
}

// Activate applies the activation policy and mints a signed token:
// the license must exist and not be revoked, the product must match if
// both sides name one, and the machine id binds on first use and must
// match afterwards. The issuance is appended to the record's audit log
// and persisted before the token is returned.
func (s *LicenseService) Activate(ctx context.Context, req ActivateRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "license.activate",
		trace.WithAttributes(attribute.String("license.product", req.Product)))
	defer span.End()

	var signed string
	err := s.store.Update(func(doc *store.Document) error {
		lic, ok := doc.Licenses[req.Key]
		if !ok {
			return apperrors.ErrInvalidKey
		}
		if lic.Status == store.StatusRevoked {
			return apperrors.ErrRevoked
		}
		if lic.Product != "" && req.Product != "" && lic.Product != req.Product {
			return apperrors.ErrWrongProduct
		}
		if lic.MachineID == "" {
			lic.MachineID = req.MachineID
		} else if lic.MachineID != req.MachineID {
			return apperrors.ErrMachineMismatch
		}

		product := lic.Product
		if product == "" {
			product = s.product
		}

		tok, claims, err := s.tokens.Issue(token.IssueRequest{
			MachineID: req.MachineID,
			Features:  lic.Features,
			Product:   product,
		}, s.tokenTTL)
		if err != nil {
			return err
		}

		lic.Issued = append(lic.Issued, store.IssuedToken{
			JTI:      claims.ID,
			Exp:      claims.ExpiresAt.Unix(),
			IssuedAt: time.Now().UnixMilli(),
		})
		signed = tok
		span.SetAttributes(attribute.String("license.jti", claims.ID))
		return nil
	})

	s.countActivation(ctx, err)
	if err != nil {
		span.RecordError(err)
		s.logger.InfoContext(ctx, "activation denied",
			slog.String("reason", apperrors.Reason(err)),
			slog.String("machine_id", req.MachineID))
		return "", err
	}

	s.logger.InfoContext(ctx, "license activated",
		slog.String("machine_id", req.MachineID))
	return signed, nil
}

// Validate verifies a token's signature and time claims, then checks
// the revocation set. Revocation overrides an otherwise valid token.
func (s *LicenseService) Validate(ctx context.Context, tokenString string) (*token.Claims, error) {
	ctx, span := s.tracer.Start(ctx, "license.validate")
	defer span.End()

	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		s.countValidation(ctx, err)
		span.RecordError(err)
		return nil, err
	}

	err = s.store.View(func(doc *store.Document) error {
		if doc.IsRevoked(claims.ID) {
			return apperrors.ErrRevoked
		}
		return nil
	})
	s.countValidation(ctx, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("license.jti", claims.ID))
	return claims, nil
}

// Document returns a snapshot of the full persisted state.
func (s *LicenseService) Document(ctx context.Context) *store.Document {
	_, span := s.tracer.Start(ctx, "license.document")
	defer span.End()
	return s.store.Snapshot()
}

// UpsertRequest carries an administrative license patch. Nil fields are
// left untouched on an existing record.
type UpsertRequest struct {
	Key      string
	Features *string
	Product  *string
	Status   *string
}

// UpsertLicense creates a license record with defaults or patches the
// supplied fields of an existing one. The bound machine id is never
// touched here: binding happens only through activation.
func (s *LicenseService) UpsertLicense(ctx context.Context, req UpsertRequest) (*store.LicenseRecord, error) {
	ctx, span := s.tracer.Start(ctx, "license.upsert")
	defer span.End()

	var result store.LicenseRecord
	err := s.store.Update(func(doc *store.Document) error {
		lic, ok := doc.Licenses[req.Key]
		if !ok {
			lic = &store.LicenseRecord{
				Features: valueOr(req.Features, ""),
				Product:  valueOr(req.Product, s.product),
				Status:   valueOr(req.Status, store.StatusActive),
			}
			doc.Licenses[req.Key] = lic
		} else {
			if req.Features != nil {
				lic.Features = *req.Features
			}
			if req.Product != nil {
				lic.Product = *req.Product
			}
			if req.Status != nil {
				lic.Status = *req.Status
			}
		}
		result = *lic
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "license upserted", slog.String("status", result.Status))
	return &result, nil
}

// RevokeKey marks a license revoked. Already-revoked keys stay revoked;
// there is no un-revoke.
func (s *LicenseService) RevokeKey(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "license.revoke_key")
	defer span.End()

	err := s.store.Update(func(doc *store.Document) error {
		lic, ok := doc.Licenses[key]
		if !ok {
			return apperrors.ErrNotFound
		}
		lic.Status = store.StatusRevoked
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.InfoContext(ctx, "license key revoked")
	return nil
}

// RevokeJTI adds a token identifier to the revocation set. Idempotent.
func (s *LicenseService) RevokeJTI(ctx context.Context, jti string) error {
	ctx, span := s.tracer.Start(ctx, "license.revoke_jti")
	defer span.End()

	err := s.store.Update(func(doc *store.Document) error {
		doc.RevokeJTI(jti)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.InfoContext(ctx, "token revoked", slog.String("jti", jti))
	return nil
}

// PublicKeyXML exports the verification key in the portable
// modulus/exponent representation.
func (s *LicenseService) PublicKeyXML() string {
	return s.keys.PublicKeyXML()
}

func (s *LicenseService) countActivation(ctx context.Context, err error) {
	if s.activations == nil {
		return
	}
	s.activations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func (s *LicenseService) countValidation(ctx context.Context, err error) {
	if s.validations == nil {
		return
	}
	s.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperrors.Reason(err)
}

func valueOr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}
