package tally

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Customer is a person or business that receives invoices.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

func (Customer) Kind() Kind { return KindCustomer }

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrInvalidEntity)
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return fmt.Errorf("%w: customer email %q is not an address", ErrInvalidEntity, c.Email)
	}
	return nil
}

// Dealer is a reseller or supplier.
type Dealer struct {
	Name        string `json:"name"`
	ContactName string `json:"contact_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Region      string `json:"region,omitempty"`
}

func (Dealer) Kind() Kind { return KindDealer }

func (d Dealer) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: dealer name is required", ErrInvalidEntity)
	}
	return nil
}

// BankAccount is an account payments can be made to.
type BankAccount struct {
	HolderName    string `json:"holder_name"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number"`
	IBAN          string `json:"iban,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

func (BankAccount) Kind() Kind { return KindBankAccount }

func (b BankAccount) Validate() error {
	if strings.TrimSpace(b.HolderName) == "" {
		return fmt.Errorf("%w: account holder name is required", ErrInvalidEntity)
	}
	if strings.TrimSpace(b.AccountNumber) == "" {
		return fmt.Errorf("%w: account number is required", ErrInvalidEntity)
	}
	return nil
}

// InvoiceStatus is the billing state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "draft"
	InvoiceSent  InvoiceStatus = "sent"
	InvoicePaid  InvoiceStatus = "paid"
)

// Invoice bills a customer. CustomerID holds the customer's local id.
type Invoice struct {
	CustomerID  string        `json:"customer_id"`
	Number      string        `json:"number"`
	IssueDate   string        `json:"issue_date,omitempty"`
	DueDate     string        `json:"due_date,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency,omitempty"`
	Status      InvoiceStatus `json:"status,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

func (Invoice) Kind() Kind { return KindInvoice }

func (i Invoice) Validate() error {
	if i.CustomerID == "" {
		return fmt.Errorf("%w: invoice customer is required", ErrInvalidEntity)
	}
	if strings.TrimSpace(i.Number) == "" {
		return fmt.Errorf("%w: invoice number is required", ErrInvalidEntity)
	}
	if i.AmountCents < 0 {
		return fmt.Errorf("%w: invoice amount must not be negative", ErrInvalidEntity)
	}
	switch i.Status {
	case "", InvoiceDraft, InvoiceSent, InvoicePaid:
	default:
		return fmt.Errorf("%w: unknown invoice status %q", ErrInvalidEntity, i.Status)
	}

	var issued, due time.Time
	var err error
	if i.IssueDate != "" {
		if issued, err = time.Parse(DateLayout, i.IssueDate); err != nil {
			return fmt.Errorf("%w: issue date %q: want YYYY-MM-DD", ErrInvalidEntity, i.IssueDate)
		}
	}
	if i.DueDate != "" {
		if due, err = time.Parse(DateLayout, i.DueDate); err != nil {
			return fmt.Errorf("%w: due date %q: want YYYY-MM-DD", ErrInvalidEntity, i.DueDate)
		}
	}
	if !issued.IsZero() && !due.IsZero() && due.Before(issued) {
		return fmt.Errorf("%w: due date is before issue date", ErrInvalidEntity)
	}
	return nil
}

// References links the invoice to its customer.
func (i Invoice) References() []Reference {
	return []Reference{{
		Field:       "customer_id",
		RemoteField: "customer_server_id",
		Kind:        KindCustomer,
		LocalID:     i.CustomerID,
	}}
}

var (
	_ SyncableEntity = Customer{}
	_ SyncableEntity = Dealer{}
	_ SyncableEntity = BankAccount{}
	_ SyncableEntity = Invoice{}
	_ Referencing    = Invoice{}
)
