// Package auth issues and validates API tokens.
//
// Tokens are HS256 JWTs signed with the configured secret. They carry only a
// subject and an expiry; there are no user accounts or roles. When no secret
// is configured the API runs without authentication.
package auth
