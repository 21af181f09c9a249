// Package server is the http surface of the invoice server: the Xero
// consent flow, resource endpoints over the gateway, local accounts and
// webhooks.
package server

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rorycl/xeroinvoiceserver/gateway"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/rorycl/xeroinvoiceserver/session"
	"github.com/rorycl/xeroinvoiceserver/users"
	"github.com/rorycl/xeroinvoiceserver/webhook"
)

// Config holds the collaborators of a Server. Users and Webhook may be
// nil, disabling local accounts and webhooks respectively.
type Config struct {
	Sessions *session.Manager
	Cookies  *session.Cookies
	Gateway  *gateway.Gateway
	Users    *users.Service
	Webhook  *webhook.Handler
	Metrics  *metrics.Metrics
	// LandingURL is where a completed consent flow is redirected
	LandingURL string
	// AllowedOrigins are the CORS origins of browser front ends
	AllowedOrigins []string
}

// Server serves the http endpoints
type Server struct {
	sessions       *session.Manager
	cookies        *session.Cookies
	gateway        *gateway.Gateway
	users          *users.Service
	webhook        *webhook.Handler
	metrics        *metrics.Metrics
	landingURL     string
	allowedOrigins []string
}

// New returns a Server
func New(c Config) *Server {
	landing := c.LandingURL
	if landing == "" {
		landing = "/"
	}
	return &Server{
		sessions:       c.Sessions,
		cookies:        c.Cookies,
		gateway:        c.Gateway,
		users:          c.Users,
		webhook:        c.Webhook,
		metrics:        c.Metrics,
		landingURL:     landing,
		allowedOrigins: c.AllowedOrigins,
	}
}

// Router registers the endpoints; gorilla mux is used because "/" in
// http.NewServeMux is a catch-all pattern
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.HandleHome).Methods("GET")
	r.HandleFunc("/connect", s.HandleConnect).Methods("GET")
	r.HandleFunc("/callback", s.HandleCallback).Methods("GET")
	r.HandleFunc("/organisation", s.HandleOrganisation).Methods("GET")
	r.HandleFunc("/tenants", s.HandleTenants).Methods("GET")
	r.HandleFunc("/invoice", s.HandleInvoice).Methods("POST")
	r.HandleFunc("/postinvoice", s.HandleInvoice).Methods("POST")
	r.HandleFunc("/contacts", s.HandleContacts).Methods("POST")
	r.HandleFunc("/banktransactions", s.HandleBankTransactions).Methods("POST")
	r.HandleFunc("/livez", s.HandleLivez).Methods("GET")
	r.HandleFunc("/status", s.HandleStatus).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	if s.users != nil {
		r.HandleFunc("/sign-up", s.HandleSignUp).Methods("GET", "POST")
		r.HandleFunc("/sign-in", s.HandleSignIn).Methods("GET", "POST")
	}
	r.HandleFunc("/sign-out", s.HandleSignOut).Methods("GET", "POST")

	if s.webhook != nil {
		r.Handle("/webhooks", s.webhook).Methods("POST")
	}
	return r
}

// Handler returns the router wrapped in recovery, access logging and,
// when origins are configured, CORS handlers
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.Router()
	if len(s.allowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.allowedOrigins),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
			handlers.AllowCredentials(),
		)(h)
	}
	return handlers.RecoveryHandler()(handlers.LoggingHandler(accessLog, h))
}
