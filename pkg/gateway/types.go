package gateway

import (
	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
	"github.com/riycorp/riy-gateway/pkg/models"
)

// AuthRequest is the body of POST /auth/external. ProofOfIdentity is an
// ID token for the Microsoft path and an authorization code for the
// Google path; RedirectURI is only meaningful for Google, where it must
// match the URI used to obtain the code.
type AuthRequest struct {
	Provider        string `json:"provider"`
	ProofOfIdentity string `json:"proof_of_identity"`
	RedirectURI     string `json:"redirect_uri,omitempty"`
}

// Validate checks the request fields that every provider requires.
func (r AuthRequest) Validate() error {
	if r.Provider == "" {
		return gwerr.New(gwerr.CodeValidationRequired,
			"gateway: provider is required")
	}
	if r.ProofOfIdentity == "" {
		return gwerr.New(gwerr.CodeValidationRequired,
			"gateway: proof_of_identity is required")
	}
	return nil
}

// LoginRequest is the body of POST /auth/login, the local/ERP path.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks the credential fields are present.
func (r LoginRequest) Validate() error {
	if r.Username == "" {
		return gwerr.New(gwerr.CodeValidationRequired,
			"gateway: username is required")
	}
	if r.Password == "" {
		return gwerr.New(gwerr.CodeValidationRequired,
			"gateway: password is required")
	}
	return nil
}

// SessionResponse is the success envelope returned by both login paths.
type SessionResponse struct {
	AppJWT      string       `json:"app_jwt"`
	User        *models.User `json:"user"`
	Permissions []string     `json:"permissions"`
}
