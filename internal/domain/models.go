package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ClientStatusActive   = "Active"
	ClientStatusInactive = "Inactive"
)

const (
	InvoiceStatusUnPaid      = "UnPaid"
	InvoiceStatusPartialPaid = "PartialPaid"
	InvoiceStatusPaid        = "Paid"
)

type Client struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone"`
	CompanyName string    `json:"company_name"`
	City        string    `json:"city"`
	Address     string    `json:"address"`
	Status      string    `json:"status"`
	Invoices    []string  `json:"invoices"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Financial fields, owned by the billing ledger and mutated only
	// inside an invoice transaction.
	TotalOwed          decimal.Decimal `json:"total_owed"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

type ClientCreateRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone"`
	CompanyName string `json:"company_name"`
	City        string `json:"city"`
	Address     string `json:"address"`
}

type ClientUpdateRequest struct {
	Username    *string `json:"username,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	CompanyName *string `json:"company_name,omitempty"`
	City        *string `json:"city,omitempty"`
	Address     *string `json:"address,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
}

type ProductPriceHistory struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedAt time.Time       `json:"changed_at"`
}

// Goods is one line item within an invoice. Name and Price are captured
// from the product at the time of sale and never re-read afterwards.
type Goods struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
}

// Invoice is the unit of truth for a sale. Client and Product records are
// derived-adjusted by it, never the reverse.
type Invoice struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"client_id"`
	Goods      []Goods         `json:"goods"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type InvoiceLineRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name"`
}

type InvoiceCreateRequest struct {
	ClientID  string               `json:"client_id"`
	Goods     []InvoiceLineRequest `json:"goods"`
	TotalPaid decimal.Decimal      `json:"total_paid"`
}

type InvoiceAmendRequest struct {
	Goods     []InvoiceLineRequest `json:"goods"`
	TotalPaid decimal.Decimal      `json:"total_paid"`
}

type DashboardSummary struct {
	Clients          int64           `json:"clients"`
	Products         int64           `json:"products"`
	Invoices         int64           `json:"invoices"`
	GrossRevenue     decimal.Decimal `json:"gross_revenue"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	RecentInvoices   []Invoice       `json:"recent_invoices"`
}
