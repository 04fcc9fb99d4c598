// Package invoice holds the storage-independent arithmetic of the billing
// core: invoice totals, payment status derivation, and the line-item differ
// used when an invoice is amended.
package invoice

import (
	"github.com/shopspring/decimal"

	"fakturin/backend/internal/domain"
)

// Total returns the invoice total, the sum of price x quantity over all
// line items.
func Total(goods []domain.Goods) decimal.Decimal {
	total := decimal.Zero
	for _, g := range goods {
		total = total.Add(g.Price.Mul(decimal.NewFromInt(g.Quantity)))
	}
	return total
}

// DeriveStatus maps a payment amount against a total:
// zero paid is UnPaid, full (or over) payment is Paid, anything between
// is PartialPaid.
func DeriveStatus(totalPaid, totalPrice decimal.Decimal) string {
	switch {
	case totalPaid.GreaterThanOrEqual(totalPrice) && totalPrice.GreaterThan(decimal.Zero):
		return domain.InvoiceStatusPaid
	case totalPaid.GreaterThan(decimal.Zero):
		return domain.InvoiceStatusPartialPaid
	default:
		return domain.InvoiceStatusUnPaid
	}
}

// StockDelta is one product stock adjustment produced by Diff. Delta is
// signed: negative quantities leave inventory, positive quantities return
// to it.
type StockDelta struct {
	ProductID string
	Delta     int64
}

// Diff compares an invoice's previous line items against its replacement
// set and returns the minimal stock movements between them:
//
//   - products only in old: their full quantity returns to stock
//   - products in both: only the quantity difference moves
//   - products only in new: their full quantity leaves stock
//
// Unchanged quantities produce no delta, so amending an invoice with an
// identical set is a no-op. The result is ordered old-first then new-only,
// keeping adjustment order deterministic.
func Diff(oldGoods, newGoods []domain.Goods) []StockDelta {
	newByProduct := make(map[string]domain.Goods, len(newGoods))
	for _, g := range newGoods {
		newByProduct[g.ProductID] = g
	}
	oldByProduct := make(map[string]domain.Goods, len(oldGoods))
	for _, g := range oldGoods {
		oldByProduct[g.ProductID] = g
	}

	deltas := make([]StockDelta, 0, len(oldGoods)+len(newGoods))
	for _, old := range oldGoods {
		updated, kept := newByProduct[old.ProductID]
		if !kept {
			deltas = append(deltas, StockDelta{ProductID: old.ProductID, Delta: old.Quantity})
			continue
		}
		if d := updated.Quantity - old.Quantity; d != 0 {
			deltas = append(deltas, StockDelta{ProductID: old.ProductID, Delta: -d})
		}
	}
	for _, updated := range newGoods {
		if _, existed := oldByProduct[updated.ProductID]; !existed {
			deltas = append(deltas, StockDelta{ProductID: updated.ProductID, Delta: -updated.Quantity})
		}
	}
	return deltas
}
