// Package oauth implements the embedded OAuth 2.1 authorization server that
// protects the toolgate MCP endpoint.
//
// The package owns three concerns:
//
//   - The credential store: bounded, TTL-aware in-memory collections for
//     pending authorization codes and issued sessions (access/refresh token
//     grants). Both collections evict oldest-first when full so an attacker
//     cannot exhaust memory by requesting unlimited credentials.
//
//   - PKCE: S256 challenge generation and verification for public clients
//     (RFC 7636). Plain is not supported; OAuth 2.1 forbids it.
//
//   - The authorization and token endpoints: request validation, grant
//     dispatch (authorization_code, refresh_token, client_credentials),
//     client authentication, token issuance, and bearer-token lookup.
//
// All OAuth failures are expressed through the closed Error taxonomy in
// errors.go rather than ad-hoc error values, so every call site handles the
// full vocabulary and the HTTP mapping lives in exactly one place.
//
// Nothing in this package persists across restarts; credential state is
// process-memory by design.
package oauth
