// Package middleware provides the HTTP middleware stack of the flux server.
//
// Middleware stack includes:
//   - Recovery: Panic recovery with a JSON 500 response
//   - RequestID: ULID request IDs echoed in X-Request-ID
//   - Logger: One structured zap line per request
//   - CORS: Cross-origin resource sharing for EventSource clients
//   - RateLimit: Per-IP token bucket rate limiting with idle client cleanup
//
// Example Usage:
//
//	router.Use(middleware.Recovery(logger), middleware.RequestID(), middleware.Logger(logger))
//	router.Use(middleware.CORS(cfg.Server.CORSOrigins...))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
