package gateway

import (
	"fmt"
	"math"
	"strings"

	"github.com/rorycl/xeroinvoiceserver/xero"
)

// Invoice line defaults for freight jobs
const (
	SalesAccountCode = "200"
	OutputTaxType    = "OUTPUT"
	TaxRate          = 0.1
)

// ContactQuery identifies, or describes, a contact by email address
type ContactQuery struct {
	Name  string `json:"contactName" validate:"required"`
	Email string `json:"emailAddress" validate:"required,email"`
	Phone string `json:"contactNumber"`
}

func (q ContactQuery) contact() xero.Contact {
	c := xero.Contact{Name: q.Name, EmailAddress: q.Email}
	if q.Phone != "" {
		c.Phones = []xero.Phone{{PhoneType: xero.PhoneMobile, PhoneNumber: q.Phone}}
	}
	return c
}

// LineItemSource provides the lines of an invoice. It is implemented by
// Job and ManualItems only.
type LineItemSource interface {
	lineItems() []xero.LineItem
	reference() string
	invoiceNumber() string
}

var (
	_ LineItemSource = Job{}
	_ LineItemSource = ManualItems{}
)

// Vehicle is one vehicle carried on a route
type Vehicle struct {
	Car string `json:"car" validate:"required"`
}

// FreightCode prices a route per vehicle
type FreightCode struct {
	Code string   `json:"code" validate:"required"`
	Cost *float64 `json:"cost" validate:"required,gte=0"`
}

// Route is a leg of a job, optionally under a purchase order
type Route struct {
	PO          string      `json:"po"`
	FreightCode FreightCode `json:"freightCode"`
	Vehicles    []Vehicle   `json:"vehicles" validate:"required,min=1,dive"`
}

// Job is a freight job: one invoice line is raised per vehicle per
// route
type Job struct {
	JobNumber string       `json:"jobNumber"`
	Client    ContactQuery `json:"client"`
	Routes    []Route      `json:"routes" validate:"required,min=1,dive"`
}

func (j Job) lineItems() []xero.LineItem {
	var lines []xero.LineItem
	for _, r := range j.Routes {
		cost := 0.0
		if r.FreightCode.Cost != nil {
			cost = *r.FreightCode.Cost
		}
		for _, v := range r.Vehicles {
			desc := fmt.Sprintf("%s / %s", v.Car, r.FreightCode.Code)
			if r.PO != "" {
				desc = fmt.Sprintf("PO: %s Vehicle: %s", r.PO, desc)
			}
			lines = append(lines, xero.LineItem{
				Description: desc,
				Quantity:    1,
				UnitAmount:  cost,
				AccountCode: SalesAccountCode,
				TaxType:     OutputTaxType,
				TaxAmount:   Tax(cost),
			})
		}
	}
	return lines
}

// reference joins the purchase order numbers of the routes
func (j Job) reference() string {
	pos := make([]string, 0, len(j.Routes))
	for _, r := range j.Routes {
		if r.PO != "" {
			pos = append(pos, r.PO)
		}
	}
	if len(pos) == 0 {
		return ""
	}
	return "PO Numbers: " + strings.Join(pos, ", ")
}

func (j Job) invoiceNumber() string { return j.JobNumber }

// Tax is the flat rate tax on amount, rounded to cents
func Tax(amount float64) float64 {
	return math.Round(amount*TaxRate*100) / 100
}

// Item is an explicitly priced line
type Item struct {
	Description string   `json:"description" validate:"required"`
	Quantity    float64  `json:"quantity" validate:"gt=0"`
	UnitAmount  float64  `json:"unitAmount" validate:"gte=0"`
	AccountCode string   `json:"accountCode"`
	TaxType     string   `json:"taxType"`
	TaxAmount   *float64 `json:"taxAmount" validate:"omitnil,gte=0"`
}

func (it Item) lineItem() xero.LineItem {
	li := xero.LineItem{
		Description: it.Description,
		Quantity:    it.Quantity,
		UnitAmount:  it.UnitAmount,
		AccountCode: it.AccountCode,
		TaxType:     it.TaxType,
	}
	if li.AccountCode == "" {
		li.AccountCode = SalesAccountCode
	}
	if li.TaxType == "" {
		li.TaxType = OutputTaxType
	}
	if it.TaxAmount != nil {
		li.TaxAmount = *it.TaxAmount
	} else {
		li.TaxAmount = Tax(it.Quantity * it.UnitAmount)
	}
	return li
}

// ManualItems are explicit invoice lines
type ManualItems struct {
	Items     []Item `json:"lineItems" validate:"required,min=1,dive"`
	Reference string `json:"reference"`
	Number    string `json:"invoiceNumber"`
}

func (m ManualItems) lineItems() []xero.LineItem {
	lines := make([]xero.LineItem, 0, len(m.Items))
	for _, it := range m.Items {
		lines = append(lines, it.lineItem())
	}
	return lines
}

func (m ManualItems) reference() string     { return m.Reference }
func (m ManualItems) invoiceNumber() string { return m.Number }

// BankTransactionInput describes a spend or receive money transaction
type BankTransactionInput struct {
	Type            string `json:"type" validate:"required,oneof=SPEND RECEIVE"`
	ContactID       string `json:"contactID" validate:"required"`
	BankAccountCode string `json:"bankAccountCode" validate:"required"`
	Reference       string `json:"reference"`
	LineItems       []Item `json:"lineItems" validate:"required,min=1,dive"`
}
