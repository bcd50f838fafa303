// Package token issues and verifies the signed license tokens handed to
// desktop clients. Tokens are compact RS256 JWTs: header and payload
// base64url-encoded and signed with the server's private key, so any
// holder of the public key can verify them offline.
package token

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "hashlic/internal/errors"
	"hashlic/internal/keystore"
)

// Algorithm is the only signature scheme tokens are accepted with.
const Algorithm = "RS256"

// Claims is the signed claim set carried by a license token. Features
// and product are copied from the license record at issuance time; a
// later license edit does not change already-issued tokens.
type Claims struct {
	MachineID string `json:"machineId"`
	Features  string `json:"features"`
	Product   string `json:"product"`
	jwt.RegisteredClaims
}

// Service signs and verifies license tokens.
type Service struct {
	keys   *keystore.Store
	logger *slog.Logger

	// now is swappable for expiry boundary tests
	now func() time.Time
}

// NewService creates a token service over the given keystore.
func NewService(keys *keystore.Store, logger *slog.Logger) *Service {
	return &Service{
		keys:   keys,
		logger: logger.With(slog.String("component", "token")),
		now:    time.Now,
	}
}

// IssueRequest carries the claim fields copied into a new token.
type IssueRequest struct {
	MachineID string
	Features  string
	Product   string
}

// Issue builds and signs a token with a fresh unique jti and an
// absolute expiry now+ttl. The signed string and the final claims are
// both returned so the caller can record the issuance.
func (s *Service) Issue(req IssueRequest, ttl time.Duration) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		MachineID: req.MachineID,
		Features:  req.Features,
		Product:   req.Product,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.keys.PrivateKey())
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Debug("token issued",
		slog.String("jti", claims.ID),
		slog.Time("exp", claims.ExpiresAt.Time),
		slog.String("product", claims.Product))

	return signed, claims, nil
}

// Verify parses and checks a token string: three dot-separated
// segments, RS256 header, signature over header.payload against the
// public key, then exp/nbf if present. Numeric claims arriving as
// integers or floats are both accepted. Failures map onto the
// machine-readable reason errors in the errors package.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != Algorithm {
			return nil, apperrors.ErrUnsupportedAlgorithm
		}
		return s.keys.PublicKey(), nil
	})
	if err != nil {
		return nil, mapVerifyError(err)
	}
	return claims, nil
}

// mapVerifyError converts jwt parse errors to the reason taxonomy.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrUnsupportedAlgorithm):
		return apperrors.ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return apperrors.ErrNotYetValid
	default:
		// covers jwt.ErrTokenMalformed and any other parse failure
		return apperrors.ErrMalformedToken
	}
}
