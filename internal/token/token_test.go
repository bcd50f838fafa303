package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hashlic/internal/errors"
	"hashlic/internal/keystore"
)

var testKey *rsa.PrivateKey

func TestMain(m *testing.M) {
	var err error
	testKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(keystore.NewFromKeys(testKey), logger)
}

// signSegments builds a token by hand so tests can control the raw
// header and payload JSON.
func signSegments(t *testing.T, headerJSON, payloadJSON string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(headerJSON))
	payload := base64.RawURLEncoding.EncodeToString([]byte(payloadJSON))
	signingInput := header + "." + payload

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, testKey, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := newTestService(t)

	signed, issued, err := svc.Issue(IssueRequest{
		MachineID: "M1",
		Features:  "preview,export",
		Product:   "HashimSapTool",
	}, 30*24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, "M1", claims.MachineID)
	assert.Equal(t, "preview,export", claims.Features)
	assert.Equal(t, "HashimSapTool", claims.Product)
	assert.Equal(t, issued.ID, claims.ID)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestEachIssueGetsFreshJTI(t *testing.T) {
	svc := newTestService(t)

	_, first, err := svc.Issue(IssueRequest{MachineID: "M1"}, time.Hour)
	require.NoError(t, err)
	_, second, err := svc.Issue(IssueRequest{MachineID: "M1"}, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestExpiryBoundary(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name    string
		exp     int64
		wantErr error
	}{
		{"one second past", time.Now().Unix() - 1, apperrors.ErrExpired},
		{"one second left", time.Now().Unix() + 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := signSegments(t,
				`{"alg":"RS256","typ":"JWT"}`,
				fmt.Sprintf(`{"jti":"j1","machineId":"M1","exp":%d}`, tt.exp))

			_, err := svc.Verify(tok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFloatingPointNumericClaims(t *testing.T) {
	svc := newTestService(t)

	exp := float64(time.Now().Unix()) + 3600.75
	tok := signSegments(t,
		`{"alg":"RS256","typ":"JWT"}`,
		fmt.Sprintf(`{"jti":"j1","machineId":"M1","exp":%.2f}`, exp))

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "j1", claims.ID)
}

func TestNotYetValid(t *testing.T) {
	svc := newTestService(t)

	nbf := time.Now().Add(time.Hour).Unix()
	exp := time.Now().Add(2 * time.Hour).Unix()
	tok := signSegments(t,
		`{"alg":"RS256","typ":"JWT"}`,
		fmt.Sprintf(`{"jti":"j1","machineId":"M1","nbf":%d,"exp":%d}`, nbf, exp))

	_, err := svc.Verify(tok)
	assert.ErrorIs(t, err, apperrors.ErrNotYetValid)
}

func TestMissingExpIsAccepted(t *testing.T) {
	svc := newTestService(t)

	tok := signSegments(t,
		`{"alg":"RS256","typ":"JWT"}`,
		`{"jti":"j1","machineId":"M1"}`)

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "j1", claims.ID)
}

func TestTamperedPayloadFailsSignature(t *testing.T) {
	svc := newTestService(t)

	signed, _, err := svc.Issue(IssueRequest{MachineID: "M1", Features: "preview"}, time.Hour)
	require.NoError(t, err)

	// flip one bit in the payload segment
	parts := []byte(signed)
	dot := 0
	for i, c := range parts {
		if c == '.' {
			dot = i
			break
		}
	}
	parts[dot+1] ^= 0x01
	tampered := string(parts)
	require.NotEqual(t, signed, tampered)

	_, err = svc.Verify(tampered)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrExpired)
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	svc := newTestService(t)

	hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"jti":       "j1",
		"machineId": "M1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := hmacToken.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAlgorithm)
}

func TestMalformedTokens(t *testing.T) {
	svc := newTestService(t)

	tests := []string{
		"",
		"only-one-segment",
		"two.segments",
		"a.b.c.d",
		"!!!.???.###",
	}

	for _, tok := range tests {
		t.Run(fmt.Sprintf("%q", tok), func(t *testing.T) {
			_, err := svc.Verify(tok)
			assert.ErrorIs(t, err, apperrors.ErrMalformedToken)
		})
	}
}

func TestSignatureFromOtherKeyRejected(t *testing.T) {
	svc := newTestService(t)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	claims := &Claims{
		MachineID: "M1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "j1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(otherKey)
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, apperrors.ErrBadSignature)
}

func TestVerifyReturnsRawClaimsOnWire(t *testing.T) {
	svc := newTestService(t)

	signed, issued, err := svc.Issue(IssueRequest{MachineID: "M1", Features: "a;b", Product: "P"}, time.Hour)
	require.NoError(t, err)

	// decode the payload segment directly to check the wire names
	var dot1, dot2 int
	for i, c := range signed {
		if c == '.' {
			if dot1 == 0 {
				dot1 = i
			} else {
				dot2 = i
			}
		}
	}
	payload, err := base64.RawURLEncoding.DecodeString(signed[dot1+1 : dot2])
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(payload, &wire))
	assert.Equal(t, issued.ID, wire["jti"])
	assert.Equal(t, "M1", wire["machineId"])
	assert.Equal(t, "a;b", wire["features"])
	assert.Equal(t, "P", wire["product"])
	assert.Contains(t, wire, "exp")
}
