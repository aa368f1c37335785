package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// HeaderAuthorization is the standard authorization header carrying the
// bearer session token. The same key is used for gRPC metadata.
const HeaderAuthorization = "authorization"

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	// Case-insensitive comparison for "Bearer " prefix.
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// SessionMiddleware returns an HTTP middleware that verifies the gateway's
// own session token on incoming requests and stores the resulting
// [SessionClaims] in the request context for downstream handlers.
//
// The middleware performs the following steps:
//  1. Extracts the "Authorization" header (bearer token)
//  2. Verifies the token using the provided [SessionVerifier]
//  3. Stores the resulting [SessionClaims] in the request context
//  4. Passes the enriched request to the next handler
//
// Requests without a bearer token or with an invalid token are rejected
// with the failure envelope and the status derived from the verification
// error (401 for invalid or expired tokens).
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/usuarios", handleUsers)
//	handler := auth.SessionMiddleware(verifier)(mux)
func SessionMiddleware(verifier *SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				writeSessionFailure(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				status := http.StatusUnauthorized
				if gwError, ok := gwerr.AsError(err); ok {
					status = gwError.HTTPStatus()
				}
				slog.DebugContext(r.Context(), "auth: session token rejected", "error", err)
				writeSessionFailure(w, status, "session token is invalid or expired")
				return
			}

			ctx := ContextWithSession(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeSessionFailure writes the gateway's standard failure envelope. The
// message is always a generic phrase; verification detail stays in the
// server log.
func writeSessionFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   true,
		"status":  status,
		"message": message,
	})
}
