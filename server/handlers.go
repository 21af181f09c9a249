package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/gateway"
	"github.com/rorycl/xeroinvoiceserver/session"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rorycl/xeroinvoiceserver/users"
	"github.com/rs/zerolog/log"
)

// HandleHome provides a minimal landing page
func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessionID(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><title>Xero invoices</title><body>")
	fmt.Fprint(w, "<h4>Xero invoices</h4>")
	fmt.Fprint(w, `<p><a href="/connect">Connect to Xero</a></p>`)
	fmt.Fprint(w, `<p>Then view the <a href="/organisation">organisation</a> `)
	fmt.Fprint(w, `or the connection <a href="/status">status</a>.</p>`)
	fmt.Fprint(w, "</body></html>")
}

// HandleConnect starts the consent flow, redirecting to Xero or, for
// json clients, returning the consent url
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.sessions.BuildConsentURL(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// HandleCallback receives the consent redirect from Xero. The state
// parameter is checked against the one issued to the session to avoid
// spoofed callouts.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.cookies.ID(r)
	if !ok {
		writeError(w, r, apierror.New(apierror.Forbidden, "no consent flow in progress"))
		return
	}
	if _, err := s.sessions.CompleteConsentCallback(r.Context(), id, r.URL); err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, s.landingURL, http.StatusFound)
}

type organisationResponse struct {
	Name           string `json:"name"`
	OrganisationID string `json:"organisationID"`
	CountryCode    string `json:"countryCode,omitempty"`
	BaseCurrency   string `json:"baseCurrency,omitempty"`
}

// HandleOrganisation returns the active tenant's organisation
func (s *Server) HandleOrganisation(w http.ResponseWriter, r *http.Request) {
	conn, err := s.connection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	org, err := s.gateway.GetOrganisation(r.Context(), conn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, organisationResponse{
		Name:           org.Name,
		OrganisationID: org.OrganisationID,
		CountryCode:    org.CountryCode,
		BaseCurrency:   org.BaseCurrency,
	})
}

type tenantResponse struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

func tenantList(ts token.Tenants) []tenantResponse {
	out := make([]tenantResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, tenantResponse{TenantID: t.TenantID, TenantName: t.TenantName, TenantType: t.TenantType})
	}
	return out
}

// HandleTenants reloads and returns the tenants of the connection; the
// first is active
func (s *Server) HandleTenants(w http.ResponseWriter, r *http.Request) {
	id, ok := s.cookies.ID(r)
	if !ok {
		writeError(w, r, apierror.New(apierror.Unauthenticated, "no session, connect to xero first"))
		return
	}
	ts, err := s.sessions.RefreshTenants(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenantList(ts))
}

// invoiceRequest is either a freight job, whose client is the invoice
// contact, or explicit line items for a contact
type invoiceRequest struct {
	Job           *gateway.Job          `json:"job"`
	Contact       *gateway.ContactQuery `json:"contact"`
	LineItems     []gateway.Item        `json:"lineItems"`
	Reference     string                `json:"reference"`
	InvoiceNumber string                `json:"invoiceNumber"`
}

func (req invoiceRequest) source() (gateway.ContactQuery, gateway.LineItemSource, error) {
	switch {
	case req.Job != nil && req.LineItems != nil:
		return gateway.ContactQuery{}, nil, apierror.New(apierror.InvalidInput, "supply either a job or line items, not both")
	case req.Job != nil:
		return req.Job.Client, *req.Job, nil
	case req.LineItems != nil && req.Contact != nil:
		return *req.Contact, gateway.ManualItems{
			Items:     req.LineItems,
			Reference: req.Reference,
			Number:    req.InvoiceNumber,
		}, nil
	}
	return gateway.ContactQuery{}, nil, apierror.New(apierror.InvalidInput, "a job, or a contact and line items, are required")
}

// HandleInvoice finds or creates the contact of a job and invoices it
func (s *Server) HandleInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	contact, src, err := req.source()
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := s.connection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.gateway.InvoiceContact(r.Context(), conn, contact, src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// HandleContacts creates a contact
func (s *Server) HandleContacts(w http.ResponseWriter, r *http.Request) {
	var q gateway.ContactQuery
	if err := decodeJSON(w, r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := s.connection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.gateway.CreateContact(r.Context(), conn, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleBankTransactions records a spend or receive money transaction
func (s *Server) HandleBankTransactions(w http.ResponseWriter, r *http.Request) {
	var in gateway.BankTransactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := s.connection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bt, err := s.gateway.CreateBankTransaction(r.Context(), conn, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bt)
}

type userResponse struct {
	FirstName string `json:"fname"`
	LastName  string `json:"lname"`
	Email     string `json:"email"`
	Connected bool   `json:"connected"`
}

// credentials reads sign up fields from a json body or from form values,
// which include the query string
func credentials(w http.ResponseWriter, r *http.Request) (users.SignUpInput, error) {
	var in users.SignUpInput
	if r.Method == http.MethodPost && isJSON(r) {
		err := decodeJSON(w, r, &in)
		return in, err
	}
	in.FirstName = r.FormValue("fname")
	in.LastName = r.FormValue("lname")
	in.Email = r.FormValue("email")
	in.Password = r.FormValue("password")
	return in, nil
}

// HandleSignUp creates a local account and signs it in
func (s *Server) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	in, err := credentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.users.SignUp(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.sessionID(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.sessions.BindUser(r.Context(), id, u.Email, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		FirstName: u.FirstName, LastName: u.LastName, Email: u.Email,
		Connected: sess.State == session.Authenticated,
	})
}

// HandleSignIn signs a local account in, reconnecting to Xero with the
// account's saved token set if the session has none
func (s *Server) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	in, err := credentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.users.SignIn(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.sessionID(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.sessions.BindUser(r.Context(), id, u.Email, u.TokenSet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("email", u.Email).Str("session", id).Msg("user signed in")
	writeJSON(w, http.StatusOK, userResponse{
		FirstName: u.FirstName, LastName: u.LastName, Email: u.Email,
		Connected: sess.State == session.Authenticated,
	})
}

// HandleSignOut disconnects the session from Xero and signs out any
// local user
func (s *Server) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.cookies.ID(r); ok {
		if err := s.sessions.SignOut(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
	}
	s.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"state": string(session.Disconnected)})
}

// HandleLivez reports that the server is up
func (s *Server) HandleLivez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

type statusResponse struct {
	State        session.State    `json:"state"`
	User         string           `json:"user,omitempty"`
	Subject      string           `json:"subject,omitempty"`
	Email        string           `json:"email,omitempty"`
	Name         string           `json:"name,omitempty"`
	Expiry       *time.Time       `json:"expiry,omitempty"`
	Expired      bool             `json:"expired"`
	ActiveTenant string           `json:"activeTenant,omitempty"`
	Tenants      []tenantResponse `json:"tenants,omitempty"`
}

// HandleStatus reports the session's connection state; tokens are never
// shown
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.cookies.ID(r)
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{State: session.Unauthenticated})
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if apierror.IsKind(err, apierror.Unauthenticated) {
		writeJSON(w, http.StatusOK, statusResponse{State: session.Unauthenticated})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := statusResponse{
		State:   sess.State,
		User:    sess.UserEmail,
		Subject: sess.Claims.Subject,
		Email:   sess.Claims.Email,
		Tenants: tenantList(sess.Tenants),
	}
	if sess.Claims.GivenName != "" || sess.Claims.FamilyName != "" {
		resp.Name = sess.Claims.GivenName + " " + sess.Claims.FamilyName
	}
	if !sess.Tokens.IsZero() {
		expiry := sess.Tokens.Expiry
		resp.Expiry = &expiry
		resp.Expired = sess.Tokens.Expired(time.Now())
	}
	if tenant, err := sess.ActiveTenant(); err == nil {
		resp.ActiveTenant = tenant
	}
	writeJSON(w, http.StatusOK, resp)
}
