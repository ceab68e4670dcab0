package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenantBody struct {
	Tenant string `json:"tenant" validate:"omitempty,max=16,printascii"`
}

type requiredBody struct {
	Tenant string `json:"tenant" validate:"required"`
}

func newJSONRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/sync-user", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&tenantBody{Tenant: "ucb.edu.bo"}))
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		err := ValidateStruct(&requiredBody{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "tenant is required", fields["tenant"])
	})

	t.Run("too long", func(t *testing.T) {
		err := ValidateStruct(&tenantBody{Tenant: strings.Repeat("a", 17)})
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err), "tenant")
	})
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		var body tenantBody
		require.NoError(t, DecodeJSON(newJSONRequest(`{"tenant":"ucb.edu.bo"}`), &body))
		assert.Equal(t, "ucb.edu.bo", body.Tenant)
	})

	t.Run("empty body is allowed", func(t *testing.T) {
		var body tenantBody
		req := httptest.NewRequest(http.MethodPost, "/auth/sync-user", nil)
		require.NoError(t, DecodeJSON(req, &body))
		assert.Empty(t, body.Tenant)
	})

	t.Run("empty body still validated", func(t *testing.T) {
		var body requiredBody
		req := httptest.NewRequest(http.MethodPost, "/auth/sync-user", nil)
		err := DecodeJSON(req, &body)
		assert.True(t, IsValidationError(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		var body tenantBody
		err := DecodeJSON(newJSONRequest(`{"tenant":`), &body)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, GetValidationFields(err), "body")
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		var body tenantBody
		err := DecodeJSON(newJSONRequest(`{"schema":"public"}`), &body)
		assert.True(t, IsValidationError(err))
	})

	t.Run("wrong content type", func(t *testing.T) {
		var body tenantBody
		req := newJSONRequest(`tenant=ucb`)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		assert.ErrorIs(t, DecodeJSON(req, &body), ErrUnsupportedMediaType)
	})
}

func TestGetValidationFields_NonValidationError(t *testing.T) {
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}
