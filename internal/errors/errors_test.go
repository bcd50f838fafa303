package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenialSerialization(t *testing.T) {
	d := Forbidden(ReasonInvalidKey)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"reason":"invalid_key"}`, string(data))
	assert.Equal(t, http.StatusForbidden, d.StatusCode)
}

func TestReasonExtraction(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"sentinel", ErrMachineMismatch, "machine_mismatch"},
		{"wrapped sentinel", fmt.Errorf("policy check: %w", ErrRevoked), "revoked"},
		{"denial", BadRequest(ReasonKeyRequired), "key required"},
		{"unknown internal", fmt.Errorf("disk on fire"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantReason string
	}{
		{ErrInvalidKey, http.StatusForbidden, "invalid_key"},
		{ErrRevoked, http.StatusForbidden, "revoked"},
		{ErrWrongProduct, http.StatusForbidden, "wrong_product"},
		{ErrMachineMismatch, http.StatusForbidden, "machine_mismatch"},
		{ErrExpired, http.StatusForbidden, "expired"},
		{ErrBadSignature, http.StatusForbidden, "bad_signature"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrMissingKeys, http.StatusInternalServerError, "server_misconfigured"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantReason, func(t *testing.T) {
			d := MapServiceError(tt.err)
			assert.Equal(t, tt.wantStatus, d.StatusCode)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestUnauthorizedIsUniform(t *testing.T) {
	d := Unauthorized()
	assert.Equal(t, http.StatusUnauthorized, d.StatusCode)
	assert.Equal(t, "admin_only", d.Reason)
}
