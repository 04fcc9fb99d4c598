// Package memory is an in-memory Repository used by tests and by dev mode
// when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fakturin/backend/internal/domain"
	"fakturin/backend/internal/oid"
	"fakturin/backend/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	clients      map[string]domain.Client
	products     map[string]domain.Product
	invoices     map[string]domain.Invoice
	priceHistory map[string][]domain.ProductPriceHistory
}

func New() *Store {
	return &Store{
		clients:      map[string]domain.Client{},
		products:     map[string]domain.Product{},
		invoices:     map[string]domain.Invoice{},
		priceHistory: map[string][]domain.ProductPriceHistory{},
	}
}

// NewSeeded returns a store preloaded with a couple of clients and products
// for dev/demo mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Client{
		{
			ID:          oid.New(oid.PrefixClient),
			Username:    "toko-harapan",
			Email:       "harapan@example.com",
			Phone:       "+62-811-111-111",
			CompanyName: "Toko Harapan",
			City:        "Bandung",
			Address:     "Jl. Braga No. 12",
		},
		{
			ID:          oid.New(oid.PrefixClient),
			Username:    "warung-sari",
			Phone:       "+62-812-222-222",
			CompanyName: "Warung Sari",
			City:        "Jakarta",
			Address:     "Jl. Sabang No. 4",
		},
	} {
		c.Status = domain.ClientStatusActive
		c.Invoices = []string{}
		c.TotalOwed = decimal.Zero
		c.TotalPaid = decimal.Zero
		c.OutstandingBalance = decimal.Zero
		c.CreatedAt = now
		c.UpdatedAt = now
		s.clients[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: oid.New(oid.PrefixProduct), Name: "Beras Premium 5kg", Description: "Premium rice", Price: decimal.NewFromInt(78000), Stock: 40},
		{ID: oid.New(oid.PrefixProduct), Name: "Minyak Goreng 2L", Description: "Cooking oil", Price: decimal.NewFromInt(36000), Stock: 80},
		{ID: oid.New(oid.PrefixProduct), Name: "Gula Pasir 1kg", Description: "Sugar", Price: decimal.NewFromInt(15500), Stock: 120},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	return s
}

func cloneClient(c domain.Client) domain.Client {
	out := c
	out.Invoices = append([]string(nil), c.Invoices...)
	return out
}

func cloneProduct(p domain.Product) domain.Product {
	return p
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	out := inv
	out.Goods = append([]domain.Goods(nil), inv.Goods...)
	return out
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.clients {
		if existing.Username == client.Username {
			return nil, store.ErrConflict
		}
	}
	s.clients[client.ID] = cloneClient(client)
	created := cloneClient(client)
	return &created, nil
}

func (s *Store) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneClient(client)
	return &out, nil
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, cloneClient(c))
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ID < clients[j].ID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.clients {
		if id != client.ID && existing.Username == client.Username {
			return nil, store.ErrConflict
		}
	}
	s.clients[client.ID] = cloneClient(client)
	updated := cloneClient(client)
	return &updated, nil
}

func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(product)
	return &out, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name == products[j].Name {
			return products[i].ID < products[j].ID
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	delete(s.priceHistory, id)
	return nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.ProductPriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = oid.New(oid.PrefixPriceHistory)
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistory[entry.ProductID] = append(s.priceHistory[entry.ProductID], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.ProductPriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	history := s.priceHistory[productID]
	out := make([]domain.ProductPriceHistory, 0, limit)
	// Newest first.
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return product.Stock, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (s *Store) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedInvoicesLocked(func(domain.Invoice) bool { return true }), nil
}

func (s *Store) ListInvoicesByClient(_ context.Context, clientID string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedInvoicesLocked(func(inv domain.Invoice) bool { return inv.ClientID == clientID }), nil
}

// sortedInvoicesLocked returns matching invoices newest first. Callers hold
// at least the read lock.
func (s *Store) sortedInvoicesLocked(match func(domain.Invoice) bool) []domain.Invoice {
	invoices := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if match(inv) {
			invoices = append(invoices, cloneInvoice(inv))
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].ID > invoices[j].ID
		}
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.invoices, id)

	for clientID, client := range s.clients {
		for i, invID := range client.Invoices {
			if invID == id {
				client.Invoices = append(client.Invoices[:i], client.Invoices[i+1:]...)
				s.clients[clientID] = client
				break
			}
		}
	}
	return nil
}

func (s *Store) DashboardSummary(_ context.Context, recentLimit int) (domain.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if recentLimit < 1 {
		recentLimit = 5
	}

	summary := domain.DashboardSummary{
		Clients:          int64(len(s.clients)),
		Products:         int64(len(s.products)),
		Invoices:         int64(len(s.invoices)),
		GrossRevenue:     decimal.Zero,
		TotalOutstanding: decimal.Zero,
	}
	for _, inv := range s.invoices {
		summary.GrossRevenue = summary.GrossRevenue.Add(inv.TotalPrice)
	}
	for _, c := range s.clients {
		summary.TotalOutstanding = summary.TotalOutstanding.Add(c.OutstandingBalance)
	}

	recent := s.sortedInvoicesLocked(func(domain.Invoice) bool { return true })
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	summary.RecentInvoices = recent
	return summary, nil
}

// session stages all mutations on copies of the store maps; InvoiceTx swaps
// them in only when the workflow function succeeds.
type session struct {
	clients  map[string]domain.Client
	products map[string]domain.Product
	invoices map[string]domain.Invoice
}

func (s *Store) InvoiceTx(_ context.Context, fn func(tx store.InvoiceSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &session{
		clients:  make(map[string]domain.Client, len(s.clients)),
		products: make(map[string]domain.Product, len(s.products)),
		invoices: make(map[string]domain.Invoice, len(s.invoices)),
	}
	for id, c := range s.clients {
		staged.clients[id] = cloneClient(c)
	}
	for id, p := range s.products {
		staged.products[id] = cloneProduct(p)
	}
	for id, inv := range s.invoices {
		staged.invoices[id] = cloneInvoice(inv)
	}

	if err := fn(staged); err != nil {
		return err
	}

	s.clients = staged.clients
	s.products = staged.products
	s.invoices = staged.invoices
	return nil
}

func (t *session) GetProductForUpdate(_ context.Context, productID string) (*domain.Product, error) {
	product, ok := t.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(product)
	return &out, nil
}

func (t *session) AdjustStock(_ context.Context, productID string, delta int64) error {
	product, ok := t.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	t.products[productID] = product
	return nil
}

func (t *session) GetClientForUpdate(_ context.Context, clientID string) (*domain.Client, error) {
	client, ok := t.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneClient(client)
	return &out, nil
}

func (t *session) ApplyFinancialDelta(_ context.Context, clientID string, owedDelta, paidDelta decimal.Decimal, attachInvoiceID string) error {
	client, ok := t.clients[clientID]
	if !ok {
		return store.ErrNotFound
	}

	client.TotalOwed = client.TotalOwed.Add(owedDelta)
	client.TotalPaid = client.TotalPaid.Add(paidDelta)
	client.OutstandingBalance = client.TotalOwed
	client.UpdatedAt = time.Now().UTC()

	if attachInvoiceID != "" {
		attached := false
		for _, id := range client.Invoices {
			if id == attachInvoiceID {
				attached = true
				break
			}
		}
		if !attached {
			client.Invoices = append(client.Invoices, attachInvoiceID)
		}
	}

	t.clients[clientID] = client
	return nil
}

func (t *session) GetInvoiceForUpdate(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	inv, ok := t.invoices[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (t *session) InsertInvoice(_ context.Context, inv domain.Invoice) error {
	if _, ok := t.invoices[inv.ID]; ok {
		return store.ErrConflict
	}
	t.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (t *session) ReplaceInvoice(_ context.Context, inv domain.Invoice) error {
	if _, ok := t.invoices[inv.ID]; !ok {
		return store.ErrNotFound
	}
	t.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}
