package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",       // local dev
	"https://soihtufest.fi",       // festival site
	"https://www.soihtufest.fi",   // festival site
	"https://store.soihtufest.fi", // store front-end
}

// CORS returns middleware that applies the store's allowed origin policy.
// Payment provider redirects arrive as top-level navigations, so they are
// unaffected by this policy.
func CORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   defaultCORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
