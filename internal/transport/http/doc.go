// Package http provides the HTTP transport layer of the license server:
// the public activation/validation endpoints, the admin surface gated
// by a shared secret, and a liveness endpoint. Handlers translate
// service errors into the reason-code response contract; they never let
// internal errors leak to clients.
package http
