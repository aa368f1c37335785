// Package models defines the core data models shared across the gateway.
//
// The models in this package represent the central data structures the
// authentication flow reads and writes. They are designed for
// serialization (JSON) and database persistence against the corporate
// user directory.
//
// User Model:
//
// The [User] type represents a row in the corporate user directory — the
// local record an external identity is reconciled against before a
// session is issued. A user is either provisioned out-of-band (corporate
// B2B identities) or auto-created on first verified consumer login.
//
// A User carries a lifecycle state:
//
//	Activo   → the account may authenticate
//	Inactivo → the account is disabled
//
// State transitions happen through the administrative CRUD surface, not
// through the authentication flow; authentication only reads the state.
package models

import (
	"fmt"
	"strings"
)

// UserSchemaVersion identifies the current schema version of the User
// model. Increment this when making breaking changes to the struct
// fields or serialization format to support schema migration.
const UserSchemaVersion = 1

// UserStatus represents the lifecycle state of a directory user. The
// values match the `estado` column in the user directory, which predates
// this service and uses Spanish labels.
type UserStatus string

const (
	// UserStatusActive indicates the account may authenticate. This is
	// the initial state for auto-provisioned consumer users.
	UserStatusActive UserStatus = "Activo"

	// UserStatusInactive indicates the account has been disabled through
	// the administrative surface.
	UserStatusInactive UserStatus = "Inactivo"
)

// String returns the string representation of the user status.
func (s UserStatus) String() string {
	return string(s)
}

// Valid reports whether the user status is one of the recognized values.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive:
		return true
	default:
		return false
	}
}

// User is a record in the corporate user directory. The JSON field names
// match the directory's column names, which the response envelope exposes
// verbatim to clients.
type User struct {
	// UsuarioID is the directory's identity column.
	UsuarioID int32 `json:"usuario_id"`

	// Usuario is the account username, the subject of issued session
	// tokens. For auto-provisioned users it is the email local-part.
	Usuario string `json:"usuario"`

	// Nombre is the display name. For auto-provisioned users it defaults
	// to the full email address until an administrator edits it.
	Nombre string `json:"nombre"`

	// Correo is the account email, the reconciliation key for external
	// identities. Stored lowercase.
	Correo string `json:"correo"`

	// Estado is the lifecycle state. Omitted from the response envelope.
	Estado UserStatus `json:"-"`

	// ExternalProvider and ExternalID record the most recently linked
	// external identity. Relinked on every successful external login.
	ExternalProvider string `json:"-"`
	ExternalID       string `json:"-"`
}

// NewProvisionedUser builds the directory record for a consumer identity
// that passed external validation but has no existing row. The username
// is the email local-part, the display name is the full email, and the
// state starts active.
func NewProvisionedUser(email, provider, externalID string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return nil, fmt.Errorf("models: email %q has no local part", email)
	}
	if provider == "" {
		return nil, fmt.Errorf("models: external provider is required")
	}
	if externalID == "" {
		return nil, fmt.Errorf("models: external id is required")
	}
	return &User{
		Usuario:          local,
		Nombre:           email,
		Correo:           email,
		Estado:           UserStatusActive,
		ExternalProvider: provider,
		ExternalID:       externalID,
	}, nil
}

// Validate checks that the user record is well-formed for persistence.
func (u *User) Validate() error {
	if u.Usuario == "" {
		return fmt.Errorf("models: usuario is required")
	}
	if u.Correo == "" {
		return fmt.Errorf("models: correo is required")
	}
	if u.Estado != "" && !u.Estado.Valid() {
		return fmt.Errorf("models: unknown estado %q", u.Estado)
	}
	return nil
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Estado == UserStatusActive
}
