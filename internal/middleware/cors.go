package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// CORS allows read-only cross-origin access to the status endpoints. With
// no origins configured every origin is allowed without credentials.
func CORS(origins []string, log zerolog.Logger) func(http.Handler) http.Handler {
	if len(origins) > 0 {
		log.Info().Int("origins", len(origins)).Msg("CORS restricted to configured origins")
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}
