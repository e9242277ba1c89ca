// Package identity issues and verifies the bearer tokens registrar callers
// present instead of repeating their password on every request.
//
// Tokens are HS256 JWTs carrying the caller's login and role. The source
// address is never part of the token; it is taken from each request.
package identity
