// ABOUTME: CORS policy for browser front-ends calling the gateway API
// ABOUTME: Preflight requests are answered before authentication runs

package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

const corsMaxAge = 12 * time.Hour

// withCORS wraps h with the configured origin policy. No origins means no
// CORS headers at all.
func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins: normalizeOrigins(origins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         int(corsMaxAge.Seconds()),
	}).Handler(h)
}

// normalizeOrigins trims whitespace and trailing slashes, which browsers never send.
func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
