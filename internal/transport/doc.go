// Package transport is the HTTP entry point of toolgate: a single router
// that fronts the MCP protocol engine with authentication, Origin
// validation, bounded request-body ingestion, and resumable server-sent
// event streams.
//
// The router owns no credential or event state; it queries the OAuth
// service and the EventStore handed in at construction. Per-request
// handling is concurrent under net/http; the stores serialize their own
// mutations.
//
// Defenses implemented here:
//
//   - Origin allowlisting against DNS-rebinding (loopback always allowed,
//     public domains only in production mode, absent Origin treated as
//     non-browser traffic).
//   - Three independent body-ingestion limits: declared Content-Length,
//     running byte total, and a wall-clock read timeout, each failing with
//     a distinct error so operators can tell attack patterns apart.
//   - Sliding-window rate limiting on the OAuth endpoints.
package transport
