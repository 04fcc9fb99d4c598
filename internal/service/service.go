// Package service carries the application workflows: single-document CRUD on
// clients and products, invoice reads, and the invoice transaction engine
// that moves stock, invoice and client ledger together inside one unit of
// work.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fakturin/backend/internal/cache"
	"fakturin/backend/internal/domain"
	"fakturin/backend/internal/invoice"
	"fakturin/backend/internal/logging"
	"fakturin/backend/internal/oid"
	"fakturin/backend/internal/store"
)

const summaryCacheKey = "dashboard:summary"

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	log        zerolog.Logger
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		log:        logging.WithComponent("service"),
	}
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if req.Username == "" {
		return domain.Client{}, fmt.Errorf("%w: username is required", store.ErrValidation)
	}

	now := time.Now().UTC()
	client := domain.Client{
		ID:                 oid.New(oid.PrefixClient),
		Username:           req.Username,
		Email:              strings.TrimSpace(req.Email),
		Phone:              strings.TrimSpace(req.Phone),
		CompanyName:        req.CompanyName,
		City:               strings.TrimSpace(req.City),
		Address:            strings.TrimSpace(req.Address),
		Status:             domain.ClientStatusActive,
		Invoices:           []string{},
		TotalOwed:          decimal.Zero,
		TotalPaid:          decimal.Zero,
		OutstandingBalance: decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	created, err := s.repo.CreateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	return *created, nil
}

func (s *Service) GetClient(ctx context.Context, id string) (domain.Client, error) {
	if err := oid.Parse(id, oid.PrefixClient, "Client"); err != nil {
		return domain.Client{}, err
	}
	client, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.repo.ListClients(ctx)
}

func (s *Service) UpdateClient(ctx context.Context, id string, req domain.ClientUpdateRequest) (domain.Client, error) {
	if err := oid.Parse(id, oid.PrefixClient, "Client"); err != nil {
		return domain.Client{}, err
	}

	existing, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" {
			return domain.Client{}, fmt.Errorf("%w: username cannot be empty", store.ErrValidation)
		}
		existing.Username = username
	}
	if req.Email != nil {
		existing.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		existing.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.CompanyName != nil {
		existing.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.City != nil {
		existing.City = strings.TrimSpace(*req.City)
	}
	if req.Address != nil {
		existing.Address = strings.TrimSpace(*req.Address)
	}
	if req.Status != nil {
		if *req.Status != domain.ClientStatusActive && *req.Status != domain.ClientStatusInactive {
			return domain.Client{}, fmt.Errorf("%w: unknown client status %q", store.ErrValidation, *req.Status)
		}
		existing.Status = *req.Status
	}
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.repo.UpdateClient(ctx, *existing)
	if err != nil {
		return domain.Client{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteClient(ctx context.Context, id string) error {
	if err := oid.Parse(id, oid.PrefixClient, "Client"); err != nil {
		return err
	}
	return s.repo.DeleteClient(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price cannot be negative", store.ErrValidation)
	}
	if req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:          oid.New(oid.PrefixProduct),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Stock:       req.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := oid.Parse(id, oid.PrefixProduct, "Product"); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := oid.Parse(id, oid.PrefixProduct, "Product"); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	oldPrice := existing.Price

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name cannot be empty", store.ErrValidation)
		}
		existing.Name = name
	}
	if req.Description != nil {
		existing.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price cannot be negative", store.ErrValidation)
		}
		existing.Price = *req.Price
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
		}
		existing.Stock = *req.Stock
	}
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Price != nil && !oldPrice.Equal(updated.Price) {
		entry := domain.ProductPriceHistory{
			ProductID: updated.ID,
			OldPrice:  oldPrice,
			NewPrice:  updated.Price,
			ChangedAt: updated.UpdatedAt,
		}
		if err := s.repo.CreatePriceHistory(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("product_id", updated.ID).Msg("failed to record price history")
		}
	}

	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := oid.Parse(id, oid.PrefixProduct, "Product"); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.ProductPriceHistory, error) {
	if err := oid.Parse(productID, oid.PrefixProduct, "Product"); err != nil {
		return nil, err
	}
	return s.repo.ListPriceHistory(ctx, productID, limit)
}

func (s *Service) GetStock(ctx context.Context, productID string) (int64, error) {
	if err := oid.Parse(productID, oid.PrefixProduct, "Product"); err != nil {
		return 0, err
	}
	return s.repo.GetStock(ctx, productID)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	if err := oid.Parse(id, oid.PrefixInvoice, "Invoice"); err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx)
}

func (s *Service) ListInvoicesByClient(ctx context.Context, clientID string) ([]domain.Invoice, error) {
	if err := oid.Parse(clientID, oid.PrefixClient, "Client"); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListInvoicesByClient(ctx, clientID)
}

func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	if err := oid.Parse(id, oid.PrefixInvoice, "Invoice"); err != nil {
		return err
	}
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.invalidateSummary(ctx)
	return nil
}

// validateGoods checks an incoming line-item set and converts it to invoice
// goods, capturing name and unit price at time of sale.
func validateGoods(lines []domain.InvoiceLineRequest) ([]domain.Goods, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: an invoice needs at least one line item", store.ErrValidation)
	}

	goods := make([]domain.Goods, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if err := oid.Parse(line.ProductID, oid.PrefixProduct, "Product"); err != nil {
			return nil, err
		}
		if seen[line.ProductID] {
			return nil, fmt.Errorf("%w: product %s appears more than once", store.ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = true
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1 for product %s", store.ErrValidation, line.ProductID)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price cannot be negative for product %s", store.ErrValidation, line.ProductID)
		}
		goods = append(goods, domain.Goods{
			ProductID: line.ProductID,
			Name:      strings.TrimSpace(line.Name),
			Price:     line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return goods, nil
}

// CreateInvoice runs the create workflow: reserve stock for every line item,
// persist the invoice, and move the client's ledger, all inside one atomic
// unit of work. Any failing step aborts the whole transaction.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	if err := oid.Parse(req.ClientID, oid.PrefixClient, "Client"); err != nil {
		return domain.Invoice{}, err
	}
	goods, err := validateGoods(req.Goods)
	if err != nil {
		return domain.Invoice{}, err
	}
	if req.TotalPaid.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: total paid cannot be negative", store.ErrInvalidPayment)
	}

	s.checkpoint("create_invoice", req.ClientID, "tx_start", nil)

	var created domain.Invoice
	err = s.repo.InvoiceTx(ctx, func(tx store.InvoiceSession) error {
		client, err := tx.GetClientForUpdate(ctx, req.ClientID)
		if err != nil {
			return fmt.Errorf("load client %s: %w", req.ClientID, err)
		}

		for _, g := range goods {
			product, err := tx.GetProductForUpdate(ctx, g.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", g.ProductID, err)
			}
			if g.Quantity > product.Stock {
				return fmt.Errorf("%w: product %s has %d in stock, requested %d",
					store.ErrInsufficientStock, g.ProductID, product.Stock, g.Quantity)
			}
			if err := tx.AdjustStock(ctx, g.ProductID, -g.Quantity); err != nil {
				return fmt.Errorf("adjust stock for %s: %w", g.ProductID, err)
			}
		}

		totalPrice := invoice.Total(goods)
		if req.TotalPaid.GreaterThan(totalPrice) {
			return fmt.Errorf("%w: paid %s exceeds total %s", store.ErrInvalidPayment, req.TotalPaid, totalPrice)
		}

		now := time.Now().UTC()
		created = domain.Invoice{
			ID:         oid.New(oid.PrefixInvoice),
			ClientID:   client.ID,
			Goods:      goods,
			TotalPaid:  req.TotalPaid,
			TotalPrice: totalPrice,
			Status:     invoice.DeriveStatus(req.TotalPaid, totalPrice),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertInvoice(ctx, created); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		owedDelta := totalPrice.Sub(req.TotalPaid)
		if err := tx.ApplyFinancialDelta(ctx, client.ID, owedDelta, req.TotalPaid, created.ID); err != nil {
			return fmt.Errorf("apply financial delta for client %s: %w", client.ID, err)
		}
		return nil
	})
	if err != nil {
		s.checkpoint("create_invoice", req.ClientID, "tx_abort", err)
		return domain.Invoice{}, err
	}

	s.checkpoint("create_invoice", created.ID, "tx_commit", nil)
	s.invalidateSummary(ctx)
	return created, nil
}

// AmendInvoice replaces an invoice's line items and payment, moving only the
// stock difference between the old and new sets and the net financial delta
// on the client's ledger.
func (s *Service) AmendInvoice(ctx context.Context, id string, req domain.InvoiceAmendRequest) (domain.Invoice, error) {
	if err := oid.Parse(id, oid.PrefixInvoice, "Invoice"); err != nil {
		return domain.Invoice{}, err
	}
	var goods []domain.Goods
	if len(req.Goods) > 0 {
		var err error
		goods, err = validateGoods(req.Goods)
		if err != nil {
			return domain.Invoice{}, err
		}
	}
	if req.TotalPaid.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: total paid cannot be negative", store.ErrInvalidPayment)
	}

	s.checkpoint("amend_invoice", id, "tx_start", nil)

	var amended domain.Invoice
	err := s.repo.InvoiceTx(ctx, func(tx store.InvoiceSession) error {
		existing, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load invoice %s: %w", id, err)
		}
		if _, err := tx.GetClientForUpdate(ctx, existing.ClientID); err != nil {
			return fmt.Errorf("load client %s: %w", existing.ClientID, err)
		}

		for _, delta := range invoice.Diff(existing.Goods, goods) {
			product, err := tx.GetProductForUpdate(ctx, delta.ProductID)
			if err != nil {
				return fmt.Errorf("load product %s: %w", delta.ProductID, err)
			}
			if product.Stock+delta.Delta < 0 {
				return fmt.Errorf("%w: product %s has %d in stock, needs %d more",
					store.ErrInsufficientStock, delta.ProductID, product.Stock, -delta.Delta)
			}
			if err := tx.AdjustStock(ctx, delta.ProductID, delta.Delta); err != nil {
				return fmt.Errorf("adjust stock for %s: %w", delta.ProductID, err)
			}
		}

		totalPrice := invoice.Total(goods)
		if req.TotalPaid.GreaterThan(totalPrice) {
			return fmt.Errorf("%w: paid %s exceeds total %s", store.ErrInvalidPayment, req.TotalPaid, totalPrice)
		}

		oldOwed := existing.TotalPrice.Sub(existing.TotalPaid)
		newOwed := totalPrice.Sub(req.TotalPaid)
		owedDelta := newOwed.Sub(oldOwed)
		paidDelta := req.TotalPaid.Sub(existing.TotalPaid)
		if err := tx.ApplyFinancialDelta(ctx, existing.ClientID, owedDelta, paidDelta, existing.ID); err != nil {
			return fmt.Errorf("apply financial delta for client %s: %w", existing.ClientID, err)
		}

		amended = domain.Invoice{
			ID:         existing.ID,
			ClientID:   existing.ClientID,
			Goods:      goods,
			TotalPaid:  req.TotalPaid,
			TotalPrice: totalPrice,
			Status:     invoice.DeriveStatus(req.TotalPaid, totalPrice),
			CreatedAt:  existing.CreatedAt,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := tx.ReplaceInvoice(ctx, amended); err != nil {
			return fmt.Errorf("replace invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		s.checkpoint("amend_invoice", id, "tx_abort", err)
		return domain.Invoice{}, err
	}

	s.checkpoint("amend_invoice", id, "tx_commit", nil)
	s.invalidateSummary(ctx)
	return amended, nil
}

func (s *Service) DashboardSummary(ctx context.Context) (domain.DashboardSummary, error) {
	if cached, ok, err := s.summaries.Get(ctx, summaryCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("summary cache read failed")
	}

	summary, err := s.repo.DashboardSummary(ctx, 5)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	if err := s.summaries.Set(ctx, summaryCacheKey, &summary, s.summaryTTL); err != nil {
		s.log.Warn().Err(err).Msg("summary cache write failed")
	}
	return summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx, summaryCacheKey); err != nil {
		s.log.Warn().Err(err).Msg("summary cache invalidation failed")
	}
}

// checkpoint emits one structured event per workflow transition. Abort
// events carry the failure and its numeric code so the abort path can be
// reconstructed from logs alone.
func (s *Service) checkpoint(op string, entityID string, event string, err error) {
	if err != nil {
		s.log.Error().
			Str("op", op).
			Str("entity_id", entityID).
			Int("code", store.Code(err)).
			Err(err).
			Msg(event)
		return
	}
	s.log.Info().
		Str("op", op).
		Str("entity_id", entityID).
		Msg(event)
}
