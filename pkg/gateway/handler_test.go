package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riycorp/riy-gateway/pkg/auth"
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// newHandlerTestServer wires the full HTTP surface over fakes and
// returns the server plus the directory for per-test tuning.
func newHandlerTestServer(t *testing.T, dir *fakeDirectory, microsoft TokenValidator, google CodeValidator) *httptest.Server {
	t.Helper()

	orch := gatewayTestOrchestrator(t, dir, microsoft, google)
	handler, err := NewHandler(orch, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handler.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// postJSON sends a JSON body and decodes the JSON response.
func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// ---------------------------------------------------------------------------
// /auth/external Tests
// ---------------------------------------------------------------------------

func TestHandler_ExternalSuccess(t *testing.T) {
	dir := gatewayTestDirectory()
	microsoft := &fakeTokenValidator{identity: gatewayTestIdentity("alice@riycorp.com")}
	srv := newHandlerTestServer(t, dir, microsoft, nil)

	status, body := postJSON(t, srv.URL+"/auth/external", AuthRequest{
		Provider:        "microsoft",
		ProofOfIdentity: "provider-token",
	})

	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["app_jwt"])
	assert.Equal(t, []any{"inicio", "reportes"}, body["permissions"])

	user, ok := body["user"].(map[string]any)
	require.True(t, ok, "user must be an object")
	assert.Equal(t, float64(7), user["usuario_id"])
	assert.Equal(t, "alice", user["usuario"])
	assert.Equal(t, "Alice R", user["nombre"])
	assert.Equal(t, "alice@riycorp.com", user["correo"])
}

func TestHandler_ExternalMissingFields(t *testing.T) {
	srv := newHandlerTestServer(t, gatewayTestDirectory(), &fakeTokenValidator{}, nil)

	for name, req := range map[string]AuthRequest{
		"missing provider": {ProofOfIdentity: "token"},
		"missing proof":    {Provider: "microsoft"},
	} {
		t.Run(name, func(t *testing.T) {
			status, body := postJSON(t, srv.URL+"/auth/external", req)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, true, body["error"])
			assert.Equal(t, float64(http.StatusBadRequest), body["status"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestHandler_ExternalMalformedJSON(t *testing.T) {
	srv := newHandlerTestServer(t, gatewayTestDirectory(), &fakeTokenValidator{}, nil)

	resp, err := http.Post(srv.URL+"/auth/external", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["error"])
}

// TestHandler_ExternalErrorMapping verifies the single classification
// point: each error class surfaces as its HTTP status with the failure
// envelope shape.
func TestHandler_ExternalErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"expired token", gwerr.New(gwerr.CodeAuthenticationExpired, "token is expired"), http.StatusUnauthorized},
		{"invalid signature", gwerr.New(gwerr.CodeAuthenticationInvalid, "token is invalid"), http.StatusUnauthorized},
		{"jwks outage", gwerr.New(gwerr.CodeUnavailableDependency, "key service unreachable"), http.StatusServiceUnavailable},
		{"internal failure", gwerr.New(gwerr.CodeInternal, "internal error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			microsoft := &fakeTokenValidator{err: tt.err}
			srv := newHandlerTestServer(t, gatewayTestDirectory(), microsoft, nil)

			status, body := postJSON(t, srv.URL+"/auth/external", AuthRequest{
				Provider:        "microsoft",
				ProofOfIdentity: "provider-token",
			})

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, true, body["error"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
		})
	}
}

func TestHandler_ExternalDomainDenied(t *testing.T) {
	microsoft := &fakeTokenValidator{identity: gatewayTestIdentity("mallory@evil.example")}
	srv := newHandlerTestServer(t, gatewayTestDirectory(), microsoft, nil)

	status, body := postJSON(t, srv.URL+"/auth/external", AuthRequest{
		Provider:        "microsoft",
		ProofOfIdentity: "provider-token",
	})

	// Policy rejection is 403, distinguishable from credential 401s.
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, float64(http.StatusForbidden), body["status"])
}

// ---------------------------------------------------------------------------
// /auth/login Tests
// ---------------------------------------------------------------------------

func TestHandler_LoginSuccess(t *testing.T) {
	dir := gatewayTestDirectory()
	dir.erpOK = true
	srv := newHandlerTestServer(t, dir, &fakeTokenValidator{}, nil)

	status, body := postJSON(t, srv.URL+"/auth/login", LoginRequest{
		Username: "alice",
		Password: "secreto",
	})

	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["app_jwt"])

	// The issued token must verify with the same session secret.
	verifier, err := auth.NewSessionVerifier(gatewayTestSecret, 0)
	require.NoError(t, err)
	claims, err := verifier.Verify(body["app_jwt"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestHandler_LoginWrongCredentials(t *testing.T) {
	dir := gatewayTestDirectory()
	dir.erpOK = false
	srv := newHandlerTestServer(t, dir, &fakeTokenValidator{}, nil)

	status, body := postJSON(t, srv.URL+"/auth/login", LoginRequest{
		Username: "alice",
		Password: "incorrecto",
	})

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, true, body["error"])
}

func TestHandler_LoginMissingFields(t *testing.T) {
	srv := newHandlerTestServer(t, gatewayTestDirectory(), &fakeTokenValidator{}, nil)

	status, body := postJSON(t, srv.URL+"/auth/login", LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, true, body["error"])
}
