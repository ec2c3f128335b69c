package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIInputValidationAcceptsEndpoints(t *testing.T) {
	iv := APIInputValidation()

	for _, target := range []string{
		"/api/v1/snapshot",
		"/api/v1/snapshot?id=profiles",
		"/api/v1/relays",
		"/api/v1/stats",
	} {
		req := httptest.NewRequest("GET", target, nil)
		assert.NoError(t, iv.ValidateRequest(req), target)
	}
}

func TestAPIInputValidationRejects(t *testing.T) {
	iv := APIInputValidation()

	tests := []struct {
		name     string
		target   string
		wantType string
	}{
		{"unknown path", "/api/info", "invalid_path"},
		{"root path", "/", "invalid_path"},
		{"unknown query param", "/api/v1/snapshot?format=xml", "invalid_query_param"},
		{"oversized path", "/" + strings.Repeat("a", 1100), "path_length"},
		{"oversized query", "/api/v1/snapshot?id=" + strings.Repeat("x", 1100), "query_length"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			err := iv.ValidateRequest(req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantType, verr.Type)
		})
	}
}

func TestAPIInputValidationHeaderChecks(t *testing.T) {
	iv := APIInputValidation()

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("User-Agent", strings.Repeat("u", 1100))
	err := iv.ValidateRequest(req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "user_agent_length", verr.Type)

	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Referer", "https://x.example.com\r\nSet-Cookie: evil=1")
	err = iv.ValidateRequest(req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "header_injection", verr.Type)

	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("User-Agent", string([]byte{0xff, 0xfe}))
	err = iv.ValidateRequest(req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid_encoding", verr.Type)

	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("X-Forwarded-For", strings.Repeat("9", 5000))
	err = iv.ValidateRequest(req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "header_length", verr.Type)
}

func TestSanitizeQueryParam(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"profiles", "profiles"},
		{"a%20b", "a b"},
		{"semi%3Bcolon", "semi;colon"},
		{"\x00\x01abc", "abc"},
		{"a\nb", "ab"},
		{"  padded  ", "padded"},
		{"%zz", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeQueryParam(tc.in), "input %q", tc.in)
	}

	long := SanitizeQueryParam(strings.Repeat("x", 300))
	assert.Len(t, long, 256)
}

func TestValidatedHandlerFuncRejectsBeforeHandler(t *testing.T) {
	called := false
	wrapped := ValidatedHandlerFunc(APIInputValidation(), func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/not-an-endpoint", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)

	req = httptest.NewRequest("GET", "/api/v1/relays", nil)
	rec = httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

func TestSecureValidatedAPIHandlerFuncHeaders(t *testing.T) {
	wrapped := SecureValidatedAPIHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestSecurityMiddlewareWrapsHandler(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := SecurityMiddleware(DefaultSecurityHeaders())(inner)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
