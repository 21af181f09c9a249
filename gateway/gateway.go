// Package gateway turns typed requests, such as "invoice this freight
// job", into calls against the Xero accounting api. A Gateway holds no
// session state; every operation is given the xero.Conn of the session
// it acts for.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/xero"
	"github.com/rs/zerolog/log"
)

// DueDays is the number of days after issue an invoice falls due
const DueDays = 7

// Gateway performs resource operations against the accounting api.
// Create operations are never retried.
type Gateway struct {
	api      xero.API
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Gateway
type Option func(*Gateway)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New returns a Gateway over api
func New(api xero.API, opts ...Option) *Gateway {
	g := &Gateway{
		api:      api,
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// check validates v, reporting failures as InvalidInput
func (g *Gateway) check(v any) error {
	err := g.validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return apierror.Wrap(apierror.InvalidInput, err, "invalid input")
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apierror.Wrap(apierror.InvalidInput, err, strings.Join(msgs, "; "))
}

// GetOrganisation returns the organisation of the active tenant
func (g *Gateway) GetOrganisation(ctx context.Context, conn xero.Conn) (xero.Organisation, error) {
	return g.api.GetOrganisation(ctx, conn)
}

// FindOrCreateContact returns the id of the contact with q's email
// address, creating the contact if there is none. Where Xero holds more
// than one contact with the address the first is used.
func (g *Gateway) FindOrCreateContact(ctx context.Context, conn xero.Conn, q ContactQuery) (string, error) {
	if err := g.check(q); err != nil {
		return "", err
	}

	found, err := g.api.GetContactsByEmail(ctx, conn, q.Email)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		if len(found) > 1 {
			log.Warn().Str("email", q.Email).Int("matches", len(found)).
				Str("contactID", found[0].ContactID).Msg("several contacts share an email address, using the first")
		}
		return found[0].ContactID, nil
	}

	c, err := g.createContact(ctx, conn, q)
	if err != nil {
		return "", err
	}
	log.Info().Str("email", q.Email).Str("contactID", c.ContactID).Msg("contact created")
	return c.ContactID, nil
}

// CreateContact creates a contact unconditionally
func (g *Gateway) CreateContact(ctx context.Context, conn xero.Conn, q ContactQuery) (xero.Contact, error) {
	if err := g.check(q); err != nil {
		return xero.Contact{}, err
	}
	return g.createContact(ctx, conn, q)
}

func (g *Gateway) createContact(ctx context.Context, conn xero.Conn, q ContactQuery) (xero.Contact, error) {
	created, err := g.api.CreateContacts(ctx, conn, []xero.Contact{q.contact()})
	if err != nil {
		return xero.Contact{}, err
	}
	if len(created) == 0 {
		return xero.Contact{}, apierror.New(apierror.UpstreamUnavailable, "no contact returned")
	}
	return created[0], nil
}

// CreateInvoice raises a receivable invoice for contactID with the
// line items of src, due DueDays after today
func (g *Gateway) CreateInvoice(ctx context.Context, conn xero.Conn, contactID string, src LineItemSource) (xero.Invoice, error) {
	if strings.TrimSpace(contactID) == "" {
		return xero.Invoice{}, apierror.New(apierror.InvalidInput, "contact id is required")
	}
	if src == nil {
		return xero.Invoice{}, apierror.New(apierror.InvalidInput, "no line items supplied")
	}
	if err := g.check(src); err != nil {
		return xero.Invoice{}, err
	}

	inv := g.buildInvoice(contactID, src)
	created, err := g.api.CreateInvoices(ctx, conn, []xero.Invoice{inv})
	if err != nil {
		return xero.Invoice{}, err
	}
	if len(created) == 0 {
		return xero.Invoice{}, apierror.New(apierror.UpstreamUnavailable, "no invoice returned")
	}
	log.Info().Str("invoiceID", created[0].InvoiceID).Str("number", inv.InvoiceNumber).
		Int("lines", len(inv.LineItems)).Msg("invoice created")
	return created[0], nil
}

// InvoiceContact finds or creates the contact q and invoices it with the
// line items of src. Both are validated before Xero is called, so an
// invalid job never leaves a stray contact behind.
func (g *Gateway) InvoiceContact(ctx context.Context, conn xero.Conn, q ContactQuery, src LineItemSource) (xero.Invoice, error) {
	if src == nil {
		return xero.Invoice{}, apierror.New(apierror.InvalidInput, "no line items supplied")
	}
	if err := g.check(q); err != nil {
		return xero.Invoice{}, err
	}
	if err := g.check(src); err != nil {
		return xero.Invoice{}, err
	}
	contactID, err := g.FindOrCreateContact(ctx, conn, q)
	if err != nil {
		return xero.Invoice{}, err
	}
	return g.CreateInvoice(ctx, conn, contactID, src)
}

// buildInvoice is the pure part of CreateInvoice
func (g *Gateway) buildInvoice(contactID string, src LineItemSource) xero.Invoice {
	now := g.now()
	number := src.invoiceNumber()
	if number == "" {
		number = fmt.Sprintf("%d", now.UnixMilli())
	}
	return xero.Invoice{
		Type:            xero.InvoiceTypeReceivable,
		Contact:         xero.Contact{ContactID: contactID},
		LineItems:       src.lineItems(),
		Date:            xero.NewDate(now),
		DueDate:         xero.NewDate(now.AddDate(0, 0, DueDays)),
		LineAmountTypes: xero.LineAmountsExclusive,
		InvoiceNumber:   number,
		Reference:       src.reference(),
	}
}

// CreateBankTransaction records a spend or receive money transaction
func (g *Gateway) CreateBankTransaction(ctx context.Context, conn xero.Conn, in BankTransactionInput) (xero.BankTransaction, error) {
	if err := g.check(in); err != nil {
		return xero.BankTransaction{}, err
	}

	lines := make([]xero.LineItem, 0, len(in.LineItems))
	for _, it := range in.LineItems {
		lines = append(lines, it.lineItem())
	}
	bt := xero.BankTransaction{
		Type:            in.Type,
		Contact:         xero.Contact{ContactID: in.ContactID},
		LineItems:       lines,
		BankAccount:     xero.BankAccount{Code: in.BankAccountCode},
		Date:            xero.NewDate(g.now()),
		Reference:       in.Reference,
		LineAmountTypes: xero.LineAmountsExclusive,
	}
	created, err := g.api.CreateBankTransactions(ctx, conn, []xero.BankTransaction{bt})
	if err != nil {
		return xero.BankTransaction{}, err
	}
	if len(created) == 0 {
		return xero.BankTransaction{}, apierror.New(apierror.UpstreamUnavailable, "no bank transaction returned")
	}
	return created[0], nil
}
