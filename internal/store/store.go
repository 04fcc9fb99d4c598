package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"fakturin/backend/internal/domain"
	"fakturin/backend/internal/oid"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidPayment    = errors.New("invalid payment amount")
	ErrConflict          = errors.New("conflict")
	ErrSerialization     = errors.New("transaction serialization failure")
)

// Code maps a storage or workflow error onto the numeric code used in logs
// and API responses: 400 for caller-correctable failures, 404 for missing
// records, 409 for conflicting writes, 500 for everything else.
func Code(err error) int {
	var invalidID *oid.ErrInvalid
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInsufficientStock),
		errors.As(err, &invalidID):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	default:
		return 500
	}
}

// Repository is the storage surface of the billing core. Reads and
// single-document writes go through it directly; the invoice workflows run
// inside InvoiceTx so every step of a create or amend commits or aborts as
// one unit.
type Repository interface {
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	CreatePriceHistory(ctx context.Context, entry domain.ProductPriceHistory) error
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.ProductPriceHistory, error)

	GetStock(ctx context.Context, productID string) (int64, error)

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	ListInvoicesByClient(ctx context.Context, clientID string) ([]domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error

	DashboardSummary(ctx context.Context, recentLimit int) (domain.DashboardSummary, error)

	// InvoiceTx runs fn inside one atomic unit of work. If fn returns an
	// error the unit of work is aborted and none of its effects are
	// observable; otherwise it commits as a whole.
	InvoiceTx(ctx context.Context, fn func(tx InvoiceSession) error) error
}

// InvoiceSession is the view of storage available inside one invoice unit of
// work. Records read "for update" stay locked until the session commits or
// aborts.
type InvoiceSession interface {
	// GetProductForUpdate returns the product with its row locked for the
	// remainder of the session.
	GetProductForUpdate(ctx context.Context, productID string) (*domain.Product, error)

	// AdjustStock adds delta to the product's stock. It does not clamp;
	// the caller validates against the locked quantity first.
	AdjustStock(ctx context.Context, productID string, delta int64) error

	GetClientForUpdate(ctx context.Context, clientID string) (*domain.Client, error)

	// ApplyFinancialDelta increments the client's running owed/paid
	// figures, recomputes the outstanding balance and, when attachInvoiceID
	// is non-empty and not yet associated, appends it to the client's
	// invoice list.
	ApplyFinancialDelta(ctx context.Context, clientID string, owedDelta, paidDelta decimal.Decimal, attachInvoiceID string) error

	GetInvoiceForUpdate(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	InsertInvoice(ctx context.Context, inv domain.Invoice) error
	ReplaceInvoice(ctx context.Context, inv domain.Invoice) error
}
