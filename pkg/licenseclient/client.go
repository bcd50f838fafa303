// Package licenseclient is the client side of the license protocol: it
// activates a license key against the server, stores the returned
// token, and re-validates it both locally (signature, expiry, machine
// binding, feature grants, using only the public key) and online
// (revocation). Local validation needs no network and no private key.
package licenseclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client-side validation errors.
var (
	ErrNoToken         = errors.New("no stored token")
	ErrMachineMismatch = errors.New("machine_mismatch")
	ErrFeatureDenied   = errors.New("feature not granted")
)

// Claims is the claim set of a license token as seen by the client.
type Claims struct {
	MachineID string `json:"machineId"`
	Features  string `json:"features"`
	Product   string `json:"product"`
	jwt.RegisteredClaims
}

// FeatureSet parses the features claim into a set of case-insensitive
// capability tokens. Both comma and semicolon delimiters are accepted.
func (c *Claims) FeatureSet() map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.FieldsFunc(c.Features, func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		if name := strings.TrimSpace(part); name != "" {
			set[strings.ToLower(name)] = true
		}
	}
	return set
}

// HasFeature reports whether the claim set grants the named capability.
func (c *Claims) HasFeature(name string) bool {
	return c.FeatureSet()[strings.ToLower(strings.TrimSpace(name))]
}

// rsaKeyValue is the portable modulus/exponent XML representation some
// deployments embed instead of a PEM container.
type rsaKeyValue struct {
	XMLName  xml.Name `xml:"RSAKeyValue"`
	Modulus  string   `xml:"Modulus"`
	Exponent string   `xml:"Exponent"`
}

// ParsePublicKeyXML converts an RSAKeyValue XML document into a public
// key usable for local token verification.
func ParsePublicKeyXML(s string) (*rsa.PublicKey, error) {
	var kv rsaKeyValue
	if err := xml.Unmarshal([]byte(s), &kv); err != nil {
		return nil, fmt.Errorf("invalid RSAKeyValue XML: %w", err)
	}

	modBytes, err := base64.StdEncoding.DecodeString(kv.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	expBytes, err := base64.StdEncoding.DecodeString(kv.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	exp := new(big.Int).SetBytes(expBytes)
	if !exp.IsInt64() || exp.Int64() <= 0 {
		return nil, fmt.Errorf("exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modBytes),
		E: int(exp.Int64()),
	}, nil
}

// MachineID returns a stable per-device identifier: the OS machine-id
// where available, the hostname otherwise.
func MachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown-machine"
	}
	return host
}

// Client talks to the license server and keeps the stored token.
type Client struct {
	BaseURL   string
	Product   string
	MachineID string
	TokenPath string

	publicKey  *rsa.PublicKey
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for server calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMachineID overrides the detected machine identifier.
func WithMachineID(id string) Option {
	return func(c *Client) { c.MachineID = id }
}

// WithTokenPath overrides where the token is stored.
func WithTokenPath(path string) Option {
	return func(c *Client) { c.TokenPath = path }
}

// NewClient creates a license client. publicKey is the server's
// verification key baked into the application.
func NewClient(baseURL, product string, publicKey *rsa.PublicKey, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Product:    product,
		MachineID:  MachineID(),
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	c.TokenPath = defaultTokenPath(product)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultTokenPath(product string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, product, "license.jwt")
}

// Activate requests a fresh token for the given license key, verifies
// it locally and stores it. Any policy denial surfaces the server's
// reason string.
func (c *Client) Activate(ctx context.Context, licenseKey string) error {
	reqBody := map[string]string{
		"key":       strings.TrimSpace(licenseKey),
		"machineId": c.MachineID,
		"product":   c.Product,
	}

	var resp struct {
		Token  string `json:"token"`
		OK     *bool  `json:"ok,omitempty"`
		Reason string `json:"reason,omitempty"`
	}
	if err := c.post(ctx, "/activate", reqBody, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		if resp.Reason != "" {
			return errors.New(resp.Reason)
		}
		return errors.New("no token returned")
	}

	if _, err := c.VerifyToken(resp.Token); err != nil {
		return fmt.Errorf("server returned invalid token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.TokenPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.TokenPath, []byte(resp.Token), 0o600)
}

// VerifyToken validates a token locally: RS256 signature against the
// public key, expiry/not-before, and a case-insensitive match of the
// machineId claim against this device.
func (c *Client) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "RS256" {
			return nil, fmt.Errorf("unsupported algorithm %q", t.Method.Alg())
		}
		return c.publicKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(claims.MachineID, c.MachineID) {
		return nil, ErrMachineMismatch
	}
	return claims, nil
}

// LoadValidToken reads the stored token and validates it locally.
func (c *Client) LoadValidToken() (*Claims, error) {
	data, err := os.ReadFile(c.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	return c.VerifyToken(strings.TrimSpace(string(data)))
}

// HasFeature checks a capability against the locally stored token.
func (c *Client) HasFeature(name string) error {
	claims, err := c.LoadValidToken()
	if err != nil {
		return err
	}
	if !claims.HasFeature(name) {
		return fmt.Errorf("%w: %s", ErrFeatureDenied, name)
	}
	return nil
}

// ValidateOnline asks the server whether the stored token is still
// acceptable, which is the only way to observe revocation. Network
// failure is a validation failure: no reachable server, no verdict.
func (c *Client) ValidateOnline(ctx context.Context) (*Claims, error) {
	data, err := os.ReadFile(c.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	tokenString := strings.TrimSpace(string(data))

	var resp struct {
		OK      bool    `json:"ok"`
		Reason  string  `json:"reason,omitempty"`
		Payload *Claims `json:"payload,omitempty"`
	}
	if err := c.post(ctx, "/validate", map[string]string{"token": tokenString}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		if resp.Reason != "" {
			return nil, errors.New(resp.Reason)
		}
		return nil, errors.New("token rejected")
	}

	// the server does not know this device; bind locally as well
	if _, err := c.VerifyToken(tokenString); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// ClearToken removes the stored token, if any.
func (c *Client) ClearToken() error {
	err := os.Remove(c.TokenPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}
