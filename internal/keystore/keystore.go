// Package keystore loads and holds the asymmetric signing keypair used
// by the token service. The private key signs issued tokens; the public
// key verifies them and is also exported in the RSAKeyValue XML form
// some desktop clients embed.
package keystore

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"github.com/golang-jwt/jwt/v5"

	apperrors "hashlic/internal/errors"
)

// Store holds the immutable RSA keypair for the process lifetime.
// Key rotation requires a restart.
type Store struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// Load reads the PEM-encoded keypair from the given paths. A missing or
// unreadable key file is a configuration error (ErrMissingKeys): the
// service must fail loudly rather than degrade to unsigned operation.
func Load(privateKeyPath, publicKeyPath string, logger *slog.Logger) (*Store, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		logger.Error("private key unavailable",
			slog.String("path", privateKeyPath),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrMissingKeys, privateKeyPath, err)
	}

	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		logger.Error("public key unavailable",
			slog.String("path", publicKeyPath),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrMissingKeys, publicKeyPath, err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", apperrors.ErrMissingKeys, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", apperrors.ErrMissingKeys, err)
	}

	logger.Info("signing keypair loaded",
		slog.String("private_key", privateKeyPath),
		slog.String("public_key", publicKeyPath),
		slog.Int("modulus_bits", publicKey.N.BitLen()))

	return &Store{privateKey: privateKey, publicKey: publicKey}, nil
}

// NewFromKeys builds a store from in-memory keys. Used by tests and by
// tooling that generates ephemeral keypairs.
func NewFromKeys(privateKey *rsa.PrivateKey) *Store {
	return &Store{privateKey: privateKey, publicKey: &privateKey.PublicKey}
}

// PrivateKey returns the signing key.
func (s *Store) PrivateKey() *rsa.PrivateKey {
	return s.privateKey
}

// PublicKey returns the verification key.
func (s *Store) PublicKey() *rsa.PublicKey {
	return s.publicKey
}

// PublicKeyXML re-encodes the public key as the portable
// <RSAKeyValue><Modulus/><Exponent/></RSAKeyValue> representation
// expected by clients that consume modulus/exponent pairs instead of a
// PEM container.
func (s *Store) PublicKeyXML() string {
	modulus := base64.StdEncoding.EncodeToString(s.publicKey.N.Bytes())
	exponent := base64.StdEncoding.EncodeToString(big.NewInt(int64(s.publicKey.E)).Bytes())
	return fmt.Sprintf("<RSAKeyValue><Modulus>%s</Modulus><Exponent>%s</Exponent></RSAKeyValue>", modulus, exponent)
}
