package xero

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Invoice and bank transaction types
const (
	InvoiceTypeReceivable  = "ACCREC"
	InvoiceTypePayable     = "ACCPAY"
	BankTransactionSpend   = "SPEND"
	BankTransactionReceive = "RECEIVE"
)

// Line amount types
const (
	LineAmountsExclusive = "Exclusive"
	LineAmountsInclusive = "Inclusive"
	LineAmountsNoTax     = "NoTax"
)

// PhoneMobile is the Xero phone type for mobile numbers
const PhoneMobile = "MOBILE"

// dateFormat is the format Xero accepts for dates on input
const dateFormat = "2006-01-02"

// msDate matches the Microsoft json dates Xero returns, such as
// /Date(1539993600000+0000)/
var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// Date is a calendar date. It marshals as 2006-01-02 and unmarshals
// from either that, an ISO date-time or a /Date(ms)/ value.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.Format(dateFormat) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(buf []byte) error {
	s := strings.Trim(string(buf), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	if m := msDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return err
		}
		d.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range []string{dateFormat, "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised xero date %q", s)
}

// Phone is a contact phone number
type Phone struct {
	PhoneType   string `json:"PhoneType"`
	PhoneNumber string `json:"PhoneNumber,omitempty"`
}

// Contact is a Xero contact. Only ContactID is needed when a contact is
// referenced from an invoice or transaction.
type Contact struct {
	ContactID     string  `json:"ContactID,omitempty"`
	Name          string  `json:"Name,omitempty"`
	FirstName     string  `json:"FirstName,omitempty"`
	LastName      string  `json:"LastName,omitempty"`
	EmailAddress  string  `json:"EmailAddress,omitempty"`
	ContactStatus string  `json:"ContactStatus,omitempty"`
	Phones        []Phone `json:"Phones,omitempty"`
}

// LineItem is one priced entry of an invoice or bank transaction
type LineItem struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	AccountCode string  `json:"AccountCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
	TaxAmount   float64 `json:"TaxAmount"`
	LineAmount  float64 `json:"LineAmount,omitempty"`
}

// Invoice is a Xero invoice
type Invoice struct {
	InvoiceID       string     `json:"InvoiceID,omitempty"`
	Type            string     `json:"Type"`
	Contact         Contact    `json:"Contact"`
	LineItems       []LineItem `json:"LineItems"`
	Date            Date       `json:"Date"`
	DueDate         Date       `json:"DueDate"`
	LineAmountTypes string     `json:"LineAmountTypes,omitempty"`
	InvoiceNumber   string     `json:"InvoiceNumber,omitempty"`
	Reference       string     `json:"Reference,omitempty"`
	Status          string     `json:"Status,omitempty"`
	SubTotal        float64    `json:"SubTotal,omitempty"`
	TotalTax        float64    `json:"TotalTax,omitempty"`
	Total           float64    `json:"Total,omitempty"`
}

// BankAccount references a bank account by id or code
type BankAccount struct {
	AccountID string `json:"AccountID,omitempty"`
	Code      string `json:"Code,omitempty"`
}

// BankTransaction is a spend or receive money transaction
type BankTransaction struct {
	BankTransactionID string      `json:"BankTransactionID,omitempty"`
	Type              string      `json:"Type"`
	Contact           Contact     `json:"Contact"`
	LineItems         []LineItem  `json:"LineItems"`
	BankAccount       BankAccount `json:"BankAccount"`
	Date              Date        `json:"Date"`
	Reference         string      `json:"Reference,omitempty"`
	LineAmountTypes   string      `json:"LineAmountTypes,omitempty"`
	Status            string      `json:"Status,omitempty"`
	Total             float64     `json:"Total,omitempty"`
}

// Organisation is the organisation of a tenant
type Organisation struct {
	OrganisationID   string `json:"OrganisationID"`
	Name             string `json:"Name"`
	LegalName        string `json:"LegalName,omitempty"`
	ShortCode        string `json:"ShortCode,omitempty"`
	CountryCode      string `json:"CountryCode,omitempty"`
	BaseCurrency     string `json:"BaseCurrency,omitempty"`
	OrganisationType string `json:"OrganisationType,omitempty"`
}

// envelopes are the collection wrappers of the Xero api

type contacts struct {
	Contacts []Contact `json:"Contacts"`
}

type invoices struct {
	Invoices []Invoice `json:"Invoices"`
}

type bankTransactions struct {
	BankTransactions []BankTransaction `json:"BankTransactions"`
}

type organisations struct {
	Organisations []Organisation `json:"Organisations"`
}
