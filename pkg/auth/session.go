package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// SessionTTL is the fixed lifetime of a gateway-issued session token.
const SessionTTL = 24 * time.Hour

// minSessionSecretLen is the minimum accepted length for the HS256 session
// signing secret. Shorter secrets weaken the HMAC below the hash's output
// size.
const minSessionSecretLen = 32

// SessionClaims is the verified payload of a gateway-issued session token.
type SessionClaims struct {
	// Subject is the local username the session was issued for.
	Subject string

	// Permissions is the permission list issued with the session, in
	// grant order. Duplicates are preserved as issued.
	Permissions []string

	// ExpiresAt is the session expiry instant.
	ExpiresAt time.Time
}

// ---------------------------------------------------------------------------
// SessionIssuer
// ---------------------------------------------------------------------------

// SessionIssuer mints the gateway's own HS256-signed session tokens. The
// token carries the local username as "sub", the permission list as
// "permissions", and a fixed 24-hour expiry as "exp".
//
// The issuer never validates tokens it produced; verification is a
// separate trust operation performed by [SessionVerifier].
//
// SessionIssuer is safe for concurrent use by multiple goroutines.
type SessionIssuer struct {
	secret Secret
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a SessionIssuer signing with the given secret.
// The secret must be at least 32 bytes.
func NewSessionIssuer(secret Secret) (*SessionIssuer, error) {
	if len(secret.Value()) < minSessionSecretLen {
		return nil, gwerr.Newf(gwerr.CodeInternalConfiguration, "auth: session signing secret must be at least %d bytes", minSessionSecretLen)
	}
	return &SessionIssuer{
		secret: secret,
		ttl:    SessionTTL,
		now:    time.Now,
	}, nil
}

// Issue builds and signs a session token for the given username and
// permission list. A session cannot be issued for an identity without a
// subject: an empty username fails with an internal-class error, since a
// reconciled user row without a username indicates a directory invariant
// violation, not bad caller input.
func (i *SessionIssuer) Issue(username string, permissions []string) (string, error) {
	if username == "" {
		return "", gwerr.New(gwerr.CodeInternal, "auth: session subject must not be empty")
	}
	if permissions == nil {
		permissions = []string{}
	}

	claims := jwt.MapClaims{
		"sub":         username,
		"permissions": permissions,
		"exp":         i.now().Add(i.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secret.Value()))
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeInternal, "auth: failed to sign session token")
	}
	return signed, nil
}

// ---------------------------------------------------------------------------
// SessionVerifier
// ---------------------------------------------------------------------------

// SessionVerifier validates gateway-issued session tokens for downstream
// handlers. It accepts only HS256 signatures under the configured secret;
// provider tokens never pass it.
//
// SessionVerifier is safe for concurrent use by multiple goroutines.
type SessionVerifier struct {
	secret Secret
	skew   time.Duration
}

// NewSessionVerifier creates a SessionVerifier checking signatures with the
// given secret and tolerating the given clock skew. The secret must be at
// least 32 bytes; a non-negative skew of zero disables leeway.
func NewSessionVerifier(secret Secret, skew time.Duration) (*SessionVerifier, error) {
	if len(secret.Value()) < minSessionSecretLen {
		return nil, gwerr.Newf(gwerr.CodeInternalConfiguration, "auth: session signing secret must be at least %d bytes", minSessionSecretLen)
	}
	if skew < 0 {
		return nil, gwerr.New(gwerr.CodeInternalConfiguration, "auth: clock skew must be non-negative")
	}
	return &SessionVerifier{secret: secret, skew: skew}, nil
}

// Verify checks the token's signature and expiry and returns its claims.
// Expired tokens fail with [gwerr.CodeAuthenticationExpired]; every other
// rejection classifies as [gwerr.CodeAuthenticationInvalid].
func (v *SessionVerifier) Verify(tokenStr string) (*SessionClaims, error) {
	if tokenStr == "" {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token must not be empty")
	}
	if len(tokenStr) > maxTokenSize {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: token exceeds maximum size")
	}

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return []byte(v.secret.Value()), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: invalid session token claims")
	}

	sub := stringClaim(mc, "sub")
	if sub == "" {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: session token carries no subject")
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, gwerr.New(gwerr.CodeAuthenticationInvalid, "auth: session token carries no expiry")
	}

	var permissions []string
	if raw, ok := mc["permissions"].([]any); ok {
		permissions = make([]string, 0, len(raw))
		for _, p := range raw {
			if s, ok := p.(string); ok {
				permissions = append(permissions, s)
			}
		}
	}

	return &SessionClaims{
		Subject:     sub,
		Permissions: permissions,
		ExpiresAt:   exp.Time,
	}, nil
}

// ---------------------------------------------------------------------------
// Token error classification
// ---------------------------------------------------------------------------

// classifyTokenError converts a JWT library error to a *[gwerr.Error] with
// the appropriate code. Errors that are already *gwerr.Error pass through
// unchanged, so validator-specific classifications survive the boundary.
func classifyTokenError(err error) *gwerr.Error {
	if err == nil {
		return nil
	}

	var gwError *gwerr.Error
	if errors.As(err, &gwError) {
		return gwError
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token is malformed")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}

	return gwerr.Wrap(err, gwerr.CodeAuthenticationInvalid, "auth: token validation failed")
}
