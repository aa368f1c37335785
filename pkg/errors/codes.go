package errors

// Code is a stable machine-readable error code following the pattern
// CATEGORY_XXX, where the category prefix determines the HTTP status class
// (see [Error.HTTPStatus]) and the numeric suffix distinguishes conditions
// within a category.
//
// Codes never change once assigned; clients and log queries may depend on
// them.
type Code string

// Error code categories and their HTTP mapping:
//
//	VAL_xxx     - request validation       (400 Bad Request)
//	AUTH_xxx    - credential rejection     (401 Unauthorized)
//	AUTHZ_xxx   - policy rejection         (403 Forbidden)
//	NF_xxx      - missing resource         (404 Not Found)
//	CONF_xxx    - state conflict           (409 Conflict)
//	INT_xxx     - internal failure         (500 Internal Server Error)
//	UNAVAIL_xxx - dependency unavailable   (503 Service Unavailable)
//	TIMEOUT_xxx - deadline exceeded        (504 Gateway Timeout)
const (
	// CodeValidation indicates a general request validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the presented token has expired.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the presented token is malformed,
	// carries a bad signature, or fails audience/issuer checks.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationEmailUnverified indicates the identity provider
	// reports the account's email address as unverified. The signature may
	// be perfectly valid; the identity is still not trusted.
	CodeAuthenticationEmailUnverified Code = "AUTH_004"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates access to a resource is denied.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeAuthorizationInsufficientScope indicates the session lacks a
	// required permission.
	CodeAuthorizationInsufficientScope Code = "AUTHZ_003"

	// CodeAuthorizationDomain indicates the verified identity belongs to an
	// email domain that is not authorized for this deployment, or to a
	// corporate domain that does not allow self-registration. This is a
	// policy rejection, distinct from any credential failure.
	CodeAuthorizationDomain Code = "AUTHZ_004"

	// CodeNotFound indicates a general not-found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the requested user was not found.
	CodeNotFoundUser Code = "NF_002"

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates the resource already exists.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable indicates a general service-unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates an upstream dependency (identity
	// provider, database) is unreachable. Recoverable by client retry.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to an upstream provider timed
	// out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "AUTH",
// "AUTHZ").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
