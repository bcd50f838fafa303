package app

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hashlic/internal/config"
)

func writeKeypair(t *testing.T, dir string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "private.pem"), privPEM, 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.pem"), pubPEM, 0o644))
}

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	dir := t.TempDir()
	writeKeypair(t, dir)

	t.Setenv("HASHLIC_PATHS_DATA_DIR", dir)
	t.Setenv("HASHLIC_ADMIN_SECRET", "app-test-secret")
	t.Setenv("HASHLIC_SERVER_RATE_LIMIT_ENABLED", "false")

	cfg, err := config.LoadFrom("")
	require.NoError(t, err)

	application, err := NewApplicationWithConfig(cfg)
	require.NoError(t, err)
	return application
}

func TestApplicationFailsWithoutKeys(t *testing.T) {
	t.Setenv("HASHLIC_PATHS_DATA_DIR", t.TempDir())

	cfg, err := config.LoadFrom("")
	require.NoError(t, err)

	_, err = NewApplicationWithConfig(cfg)
	assert.Error(t, err)
}

func TestEndToEndActivationFlow(t *testing.T) {
	application := newTestApplication(t)
	srv := httptest.NewServer(application.Router)
	defer srv.Close()

	post := func(path string, body any, admin bool) (*http.Response, map[string]any) {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if admin {
			req.Header.Set("X-Admin-Secret", "app-test-secret")
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		return resp, out
	}

	// admin creates a license
	resp, _ := post("/admin/license", map[string]string{"key": "ABC", "features": "preview"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// client activates and validates
	resp, body := post("/activate", map[string]string{"key": "ABC", "machineId": "M1"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	resp, body = post("/validate", map[string]string{"token": tok}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	// different machine is refused
	resp, body = post("/activate", map[string]string{"key": "ABC", "machineId": "M2"}, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "machine_mismatch", body["reason"])

	// state survives across requests on disk
	data, err := os.ReadFile(application.Config.DatabaseFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "ABC")
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	application := newTestApplication(t)
	srv := httptest.NewServer(application.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
