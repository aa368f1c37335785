// Package auth implements the identity-federation core of the RIY gateway:
// provider token validation (Microsoft Entra ID / MSAL and Google OAuth),
// JWKS key resolution with caching, the email-domain policy gate, and
// issuance and verification of the gateway's own session tokens.
//
// Validation flow:
//
// A provider hands the gateway proof-of-identity material (a bearer ID token
// for Microsoft, an authorization code for Google). The provider-specific
// validator verifies it cryptographically against the provider's published
// JWKS and produces an [ExternalIdentity]: a verified (email, unique id)
// pair. The identity is then subject to the [DomainPolicy] gate before any
// local state is touched.
//
// Session tokens:
//
// After reconciliation and permission resolution, [SessionIssuer] mints the
// gateway's own HS256-signed JWT carrying the local username and permission
// list. Downstream handlers verify it with [SessionVerifier], never with the
// provider's keys; issuance and verification are separate trust operations.
//
// Security:
//
// Provider tokens are never trusted before signature verification. The
// unverified header and issuer claim are read only to locate the signing
// key; every terminal decision (audience, issuer, expiry, email_verified)
// is made on verified claims. Tokens with alg "none" are rejected outright.
package auth

import (
	"strings"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// Provider identifies the external identity provider that produced a
// proof of identity.
type Provider string

const (
	// ProviderGoogle identifies identities verified through Google's OAuth
	// authorization-code exchange.
	ProviderGoogle Provider = "google"

	// ProviderMicrosoft identifies identities verified from Microsoft
	// Entra ID / MSAL bearer tokens.
	ProviderMicrosoft Provider = "microsoft"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Valid reports whether the provider is one of the recognized values.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft:
		return true
	default:
		return false
	}
}

// ParseProvider maps an inbound provider string to a [Provider]. The MSAL
// aliases "msal-corp" and "msal-personal" both route to the Microsoft
// validator; they differ only in which client application requested the
// token, not in how it is verified.
//
// Returns a *[gwerr.Error] with code [gwerr.CodeValidation] for unknown
// provider strings.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google":
		return ProviderGoogle, nil
	case "microsoft", "msal-corp", "msal-personal":
		return ProviderMicrosoft, nil
	default:
		return "", gwerr.Newf(gwerr.CodeValidation, "auth: unknown identity provider %q", s)
	}
}

// ExternalIdentity is the verified result of provider token validation.
// It is ephemeral: produced per request, never persisted, and never
// returned on a failed validation.
type ExternalIdentity struct {
	// Email is the provider-asserted email address, lower-cased. It is the
	// natural key for the domain gate and the local user lookup.
	Email string

	// UniqueID is the provider-assigned stable subject identifier. The
	// value is opaque to the gateway; it is stored alongside the local
	// user row to link the external account.
	UniqueID string

	// Provider is the identity provider that asserted this identity.
	Provider Provider
}

// Domain returns the lower-cased domain part of the identity's email,
// or an empty string if the email contains no "@".
func (e ExternalIdentity) Domain() string {
	return EmailDomain(e.Email)
}

// EmailDomain returns the lower-cased domain of an email address: the part
// after the last "@". Returns an empty string when the address has no "@"
// or nothing after it, so malformed addresses classify as unauthorized
// rather than matching a whitelist entry by accident.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
