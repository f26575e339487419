package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// New builds the router with logging and metrics middleware applied to
// every route; per-route auth is layered on by API.Register.
func New(log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(Logging(log))
	r.Use(Metrics)
	return r
}

// NewServer wraps handler in an *http.Server bound to addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{Addr: addr, Handler: handler}
}
