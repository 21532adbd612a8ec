package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsMaxAge is how long browsers may cache a preflight answer.
const corsMaxAge = 12 * time.Hour

// corsHeaders are the request headers browser clients of the job API send.
// EventSource reconnects add Last-Event-ID.
var corsHeaders = []string{
	"Accept",
	"Cache-Control",
	"Content-Type",
	"Last-Event-ID",
	"Origin",
	RequestIDHeader,
}

// CORSConfig returns the cors settings for origins. A missing list or a
// lone "*" allows every origin; credentials are only enabled for explicit
// origins since browsers refuse them next to a wildcard.
func CORSConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        corsMaxAge,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// CORS allows cross-origin calls from origins.
func CORS(origins ...string) gin.HandlerFunc {
	return cors.New(CORSConfig(origins))
}
