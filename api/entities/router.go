package entities

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kilianp07/tasmota-bridge/infra/history"
)

// Options configures the API handler.
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token       string
	CORSOrigins []string
	// History enables the history endpoint.
	History history.Store
}

// NewRouter registers the API routes.
func NewRouter(svc Service, opts Options) *mux.Router {
	h := handlers{svc: svc, hist: opts.History}
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	if opts.Token != "" {
		api.Use(bearerAuth(opts.Token))
	}
	api.HandleFunc("/devices", h.devices).Methods(http.MethodGet)
	api.HandleFunc("/entities", h.list).Methods(http.MethodGet)
	api.HandleFunc("/entities/{entity_id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/entities/{entity_id}", h.rename).Methods(http.MethodPut)
	api.HandleFunc("/entities/{entity_id}/history", h.history).Methods(http.MethodGet)
	return r
}

// NewHandler wraps the router with CORS handling.
func NewHandler(svc Service, opts Options) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(NewRouter(svc, opts))
}

func bearerAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
