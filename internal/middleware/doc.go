// Package middleware provides HTTP middleware for the warden API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for local extension callers
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//   - GlobalRateLimit: Single shared bucket for all callers
//
// This layer protects the ingestion API itself. Detection-side event
// rate limiting (per-domain sliding windows inside the monitors) is a
// separate concern and lives with the monitors.
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
