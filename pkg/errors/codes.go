package errors

// Code represents a machine-readable error code for categorizing errors.
// Error codes follow the pattern CATEGORY_XXX where CATEGORY is a short
// identifier (e.g., AUTH, VAL, NF) and XXX is a three-digit numeric code.
//
// Error codes are designed to be:
//   - Stable: Codes do not change once assigned
//   - Unique: Each error condition has a distinct code
//   - Searchable: Codes can be used to find documentation and solutions
//   - Machine-readable: Suitable for automated error handling
type Code string

// Error code categories and their ranges:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	CONF_xxx    - Conflict errors (409 Conflict)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
//
// Codes 001-009 in each category are generic; codes 010 and above are
// reserved for specific, protocol-level failure modes of the OIDC login
// flow, token verification, and session handling.
const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when input fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// Used when a login flow or token verification fails.

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the credential has expired and
	// re-authentication is required.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the credential is malformed.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthStateMismatch indicates the state parameter returned by the
	// provider does not match the value stored at login initiation.
	CodeAuthStateMismatch Code = "AUTH_010"

	// CodeAuthSessionExpired indicates the in-flight login attempt exceeded
	// its TTL before the provider callback arrived.
	CodeAuthSessionExpired Code = "AUTH_011"

	// CodeAuthSessionReused indicates a callback was replayed against an
	// auth session that was already consumed. The session is deleted.
	CodeAuthSessionReused Code = "AUTH_012"

	// CodeFingerprintMismatch indicates the client fingerprint of the
	// current request does not match the one bound to the session. The
	// session is deleted, not merely rejected.
	CodeFingerprintMismatch Code = "AUTH_013"

	// CodeNonceMismatch indicates the ID token's nonce claim does not
	// match the nonce generated at login initiation.
	CodeNonceMismatch Code = "AUTH_014"

	// CodeSignatureInvalid indicates the token signature did not verify
	// against the provider's published signing keys.
	CodeSignatureInvalid Code = "AUTH_015"

	// CodeAlgorithmNotAllowed indicates the token header declares a signing
	// algorithm outside the configured allow-list (including "none").
	CodeAlgorithmNotAllowed Code = "AUTH_016"

	// CodeIssuerMismatch indicates the token's iss claim does not equal the
	// expected issuer exactly.
	CodeIssuerMismatch Code = "AUTH_017"

	// CodeAudienceMismatch indicates the token's aud claim contains none of
	// the configured audiences.
	CodeAudienceMismatch Code = "AUTH_018"

	// CodeTokenExpired indicates the token is outside its validity window
	// (exp in the past, or nbf/iat in the future beyond clock skew).
	CodeTokenExpired Code = "AUTH_019"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	// Used when a request fails CSRF or origin checks.

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeCsrfTokenMissing indicates a state-changing request arrived
	// without a CSRF token header.
	CodeCsrfTokenMissing Code = "AUTHZ_010"

	// CodeCsrfTokenInvalid indicates the presented CSRF token failed HMAC
	// verification for the session, or has aged out.
	CodeCsrfTokenInvalid Code = "AUTHZ_011"

	// CodeOriginNotAllowed indicates the request's Origin header is not in
	// the configured allow-list.
	CodeOriginNotAllowed Code = "AUTHZ_012"

	// Not found errors (NF_xxx) - HTTP 404
	// Used when a requested resource does not exist.

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the requested user was not found.
	CodeNotFoundUser Code = "NF_002"

	// CodeSessionNotFound indicates no session exists for the presented
	// session id (deleted, expired, or never issued).
	CodeSessionNotFound Code = "NF_010"

	// Conflict errors (CONF_xxx) - HTTP 409
	// Used when an operation conflicts with current state.

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates the resource already exists.
	// Identity provisioning maps unique-constraint violations to this code
	// and recovers by re-reading the winning row.
	CodeConflictAlreadyExists Code = "CONF_002"

	// Internal errors (INT_xxx) - HTTP 500
	// Used for unexpected internal failures.

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database or store operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503
	// Used when an upstream dependency is unreachable.

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeJWKSUnavailable indicates the provider's JWKS endpoint could not
	// be reached or returned an unusable key set. Token verification fails
	// closed when this occurs.
	CodeJWKSUnavailable Code = "UNAVAIL_010"

	// CodeProviderExchange indicates the authorization-code or
	// refresh-token exchange against the provider's token endpoint failed.
	CodeProviderExchange Code = "UNAVAIL_011"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504
	// Used when an operation exceeds its time limit.

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependent service timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
