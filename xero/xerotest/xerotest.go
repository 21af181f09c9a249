// Package xerotest provides an in-memory fake of the Xero accounting
// api for tests.
package xerotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rorycl/xeroinvoiceserver/xero"
)

// ValidationBody is a Xero validation error response
const ValidationBody = `{
  "ErrorNumber": 10,
  "Type": "ValidationException",
  "Message": "A validation exception occurred",
  "Elements": [{"ValidationErrors": [{"Message": "Email address must be valid."}]}]
}`

var whereEmail = regexp.MustCompile(`^EmailAddress=="(.*)"$`)

// Server is the fake api. Fields may be set before the first request.
type Server struct {
	*httptest.Server

	Organisation xero.Organisation

	mu               sync.Mutex
	contacts         []xero.Contact
	invoices         []xero.Invoice
	bankTransactions []xero.BankTransaction
	calls            map[string]int
	failures         []int
	lastTenant       string
}

// NewServer starts a fake api; callers must Close it
func NewServer() *Server {
	s := &Server{
		Organisation: xero.Organisation{
			OrganisationID: "b2c885a9-4bb9-4a00-9b6e-6c2bf60b1a2b",
			Name:           "Maple Florist",
			CountryCode:    "NZ",
			BaseCurrency:   "NZD",
		},
		calls: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddContact seeds a contact, returning its id
func (s *Server) AddContact(c xero.Contact) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ContactID == "" {
		c.ContactID = uuid.NewString()
	}
	s.contacts = append(s.contacts, c)
	return c.ContactID
}

// Fail queues status codes returned, in order, by the next requests
func (s *Server) Fail(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, codes...)
}

// Calls reports the requests received for a "METHOD Endpoint" key such
// as "PUT Invoices"
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// Contacts returns the stored contacts
func (s *Server) Contacts() []xero.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xero.Contact(nil), s.contacts...)
}

// Invoices returns the stored invoices
func (s *Server) Invoices() []xero.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xero.Invoice(nil), s.invoices...)
}

// LastTenant returns the xero-tenant-id of the last request
func (s *Server) LastTenant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTenant
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.Trim(r.URL.Path, "/")

	s.mu.Lock()
	s.calls[r.Method+" "+endpoint]++
	s.lastTenant = r.Header.Get("xero-tenant-id")
	var fail int
	if len(s.failures) > 0 {
		fail, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || r.Header.Get("xero-tenant-id") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if fail != 0 {
		w.WriteHeader(fail)
		if fail == http.StatusBadRequest {
			w.Write([]byte(ValidationBody))
		}
		return
	}

	switch r.Method + " " + endpoint {
	case "GET Organisation":
		writeJSON(w, map[string]any{"Organisations": []xero.Organisation{s.Organisation}})
	case "GET Contacts":
		writeJSON(w, map[string]any{"Contacts": s.findContacts(r.URL.Query().Get("where"))})
	case "PUT Contacts":
		var in struct{ Contacts []xero.Contact }
		if !decode(w, r, &in) {
			return
		}
		s.mu.Lock()
		for i := range in.Contacts {
			if in.Contacts[i].Name == "" {
				s.mu.Unlock()
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(ValidationBody))
				return
			}
			in.Contacts[i].ContactID = uuid.NewString()
			in.Contacts[i].ContactStatus = "ACTIVE"
			s.contacts = append(s.contacts, in.Contacts[i])
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"Contacts": in.Contacts})
	case "PUT Invoices":
		var in struct{ Invoices []xero.Invoice }
		if !decode(w, r, &in) {
			return
		}
		s.mu.Lock()
		for i := range in.Invoices {
			inv := &in.Invoices[i]
			inv.InvoiceID = uuid.NewString()
			inv.Status = "DRAFT"
			inv.SubTotal, inv.TotalTax = 0, 0
			for _, li := range inv.LineItems {
				inv.SubTotal += li.Quantity * li.UnitAmount
				inv.TotalTax += li.TaxAmount
			}
			inv.Total = inv.SubTotal + inv.TotalTax
			s.invoices = append(s.invoices, *inv)
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"Invoices": in.Invoices})
	case "PUT BankTransactions":
		var in struct{ BankTransactions []xero.BankTransaction }
		if !decode(w, r, &in) {
			return
		}
		s.mu.Lock()
		for i := range in.BankTransactions {
			bt := &in.BankTransactions[i]
			bt.BankTransactionID = uuid.NewString()
			bt.Status = "AUTHORISED"
			s.bankTransactions = append(s.bankTransactions, *bt)
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"BankTransactions": in.BankTransactions})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) findContacts(where string) []xero.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := whereEmail.FindStringSubmatch(where)
	if m == nil {
		return append([]xero.Contact{}, s.contacts...)
	}
	found := []xero.Contact{}
	for _, c := range s.contacts {
		if strings.EqualFold(c.EmailAddress, m[1]) {
			found = append(found, c)
		}
	}
	return found
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"ErrorNumber": 14, "Type": "PostDataInvalidException", "Message": %q}`, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
