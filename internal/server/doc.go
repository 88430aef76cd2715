// Package server hosts the CirrusDrive API behind a single HTTP server.
//
// The server builds a consistent middleware chain of logging, audit,
// metrics, security headers, CORS, rate limiting, request IDs, and the
// authentication gate so handlers all share common protections and
// instrumentation. It also serves the embedded API documentation.
package server
