// Package errors provides standardized error types and error handling
// utilities for the authcore platform. It defines the error categories,
// machine-readable codes, and helper functions used across the OIDC flow,
// session store, and identity provisioning packages.
//
// # Error Categories
//
// The package defines several error categories that map to common failure
// scenarios:
//
//   - Validation errors: Invalid input, missing required fields
//   - Authentication errors: Failed login flows, invalid or expired tokens
//   - Authorization errors: CSRF/Origin rejection, insufficient access
//   - NotFound errors: Resource or session does not exist
//   - Conflict errors: Resource already exists, concurrent creation
//   - Internal errors: Unexpected system failures
//   - Unavailable errors: Upstream provider or dependency unreachable
//   - Timeout errors: Operation exceeded time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_012") usable for
// error tracking, alerting, and client-side handling. Codes follow the
// pattern CATEGORY_XXX where CATEGORY is a short identifier and XXX is a
// numeric code. Authentication-flow failures each carry a distinct code so
// callers can tell a state mismatch from a nonce mismatch from a replayed
// callback without parsing messages.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeAuthStateMismatch, "callback state does not match")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to load session")
//
// Check error category:
//
//	if errors.IsAuthentication(err) {
//	    // respond 401 without internal detail
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("operation failed",
//	        "code", e.Code,
//	        "message", e.Message,
//	    )
//	}
package errors
