package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"levx/internal/auth"
	"levx/internal/httputil"
	"levx/internal/orders"
)

type RouterDeps struct {
	AuthHandler  *auth.Handler
	OrderHandler *orders.Handler
	AuthService  *auth.Service
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", d.AuthHandler.Signup)
			r.Post("/signin", d.AuthHandler.Signin)
		})
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Post("/trade/create", withUser(d.OrderHandler.Place))
			r.Post("/trade/cancel", withUser(d.OrderHandler.Cancel))
			r.Post("/trade/close", withUser(d.OrderHandler.Close))
			r.Get("/balance", withUser(d.OrderHandler.Balance))
			r.Get("/positions/open", withUser(d.OrderHandler.OpenPositions))
			r.Get("/positions/closed", withUser(d.OrderHandler.ClosedPositions))
		})
	})
	return r
}

func withUser(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, userID)
	}
}
