// Package middleware provides HTTP middleware for the Zeus assistant API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/flow23flow23/artistrm-360-sub002/internal/identity"
)

// The assistant API only reads state and replaces preferences; the dialog
// header must cross origins so a tab can address its own dialog.
var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPut, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", identity.DialogHeaderName}, ", ")
)

// CORS lets the configured web origins call the assistant API. A "*" entry
// admits any origin but never with credentials, since the identity cookie
// names the artist.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	anyOrigin := false
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			trusted := origin != "" && explicit[origin]

			if trusted || anyOrigin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Add("Vary", "Origin")
				if trusted {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			// Preflights end here whether or not the origin was admitted.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
