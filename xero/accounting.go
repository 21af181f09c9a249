package xero

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rorycl/xeroinvoiceserver/apierror"
)

// API is the subset of the accounting api used by the gateway
type API interface {
	GetOrganisation(ctx context.Context, conn Conn) (Organisation, error)
	GetContactsByEmail(ctx context.Context, conn Conn, email string) ([]Contact, error)
	CreateContacts(ctx context.Context, conn Conn, cs []Contact) ([]Contact, error)
	CreateInvoices(ctx context.Context, conn Conn, invs []Invoice) ([]Invoice, error)
	CreateBankTransactions(ctx context.Context, conn Conn, bts []BankTransaction) ([]BankTransaction, error)
}

var _ API = (*Client)(nil)

// GetOrganisation returns the organisation of the connection's tenant
func (c *Client) GetOrganisation(ctx context.Context, conn Conn) (Organisation, error) {
	var out organisations
	if err := c.get(ctx, conn, "Organisation", nil, &out); err != nil {
		return Organisation{}, err
	}
	if len(out.Organisations) == 0 {
		return Organisation{}, apierror.New(apierror.NotFound, "no organisation returned")
	}
	return out.Organisations[0], nil
}

// GetContactsByEmail returns the contacts whose email address equals
// email
func (c *Client) GetContactsByEmail(ctx context.Context, conn Conn, email string) ([]Contact, error) {
	q := url.Values{}
	q.Set("where", fmt.Sprintf(`EmailAddress=="%s"`, strings.ReplaceAll(email, `"`, `\"`)))
	var out contacts
	if err := c.get(ctx, conn, "Contacts", q, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// CreateContacts creates contacts, returning them with their ids
func (c *Client) CreateContacts(ctx context.Context, conn Conn, cs []Contact) ([]Contact, error) {
	var out contacts
	if err := c.create(ctx, conn, "Contacts", contacts{Contacts: cs}, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// CreateInvoices creates invoices
func (c *Client) CreateInvoices(ctx context.Context, conn Conn, invs []Invoice) ([]Invoice, error) {
	var out invoices
	if err := c.create(ctx, conn, "Invoices", invoices{Invoices: invs}, &out); err != nil {
		return nil, err
	}
	return out.Invoices, nil
}

// CreateBankTransactions creates spend or receive money transactions
func (c *Client) CreateBankTransactions(ctx context.Context, conn Conn, bts []BankTransaction) ([]BankTransaction, error) {
	var out bankTransactions
	if err := c.create(ctx, conn, "BankTransactions", bankTransactions{BankTransactions: bts}, &out); err != nil {
		return nil, err
	}
	return out.BankTransactions, nil
}
