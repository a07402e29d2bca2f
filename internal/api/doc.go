// Package api is the HTTP surface of the portfolio chat service.
//
// Endpoints:
//
//	POST /api/chat    - streaming chat answer (text/plain relay)
//	POST /api/ingest  - batch document ingestion (admin)
//	GET  /health      - liveness probe
//	GET  /ready       - readiness probe (pings Postgres)
//
// File structure:
//   - server.go: server construction and middleware stack
//   - middleware.go: recovery, request ID, logging, CORS
//   - throttle.go: per-client sliding-window throttle
//   - chat.go: chat wire format and stream relay
//   - ingest.go: ingestion endpoint
//   - health.go: health probes
//   - response.go: JSON response helpers
package api
