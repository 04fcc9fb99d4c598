package invoice

import (
	"testing"

	"github.com/shopspring/decimal"

	"fakturin/backend/internal/domain"
)

func goods(productID string, qty int64, price int64) domain.Goods {
	return domain.Goods{
		ProductID: productID,
		Name:      "product " + productID,
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
	}
}

func deltaMap(deltas []StockDelta) map[string]int64 {
	m := make(map[string]int64, len(deltas))
	for _, d := range deltas {
		m[d.ProductID] += d.Delta
	}
	return m
}

func TestTotal(t *testing.T) {
	total := Total([]domain.Goods{
		goods("pr-a", 2, 50),
		goods("pr-b", 3, 10),
	})
	if !total.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("expected total 130, got %s", total)
	}

	if !Total(nil).Equal(decimal.Zero) {
		t.Fatalf("expected zero total for empty goods")
	}
}

func TestDeriveStatus(t *testing.T) {
	price := decimal.NewFromInt(100)

	cases := []struct {
		paid int64
		want string
	}{
		{0, domain.InvoiceStatusUnPaid},
		{40, domain.InvoiceStatusPartialPaid},
		{100, domain.InvoiceStatusPaid},
		{150, domain.InvoiceStatusPaid},
	}
	for _, tc := range cases {
		got := DeriveStatus(decimal.NewFromInt(tc.paid), price)
		if got != tc.want {
			t.Fatalf("paid %d of 100: expected %s, got %s", tc.paid, tc.want, got)
		}
	}
}

func TestDeriveStatusZeroTotal(t *testing.T) {
	if got := DeriveStatus(decimal.Zero, decimal.Zero); got != domain.InvoiceStatusUnPaid {
		t.Fatalf("zero paid of zero total should be UnPaid, got %s", got)
	}
}

func TestDiffOnlyMovesTheDifference(t *testing.T) {
	oldGoods := []domain.Goods{goods("pr-a", 2, 10)}
	newGoods := []domain.Goods{goods("pr-a", 5, 10), goods("pr-b", 1, 20)}

	m := deltaMap(Diff(oldGoods, newGoods))
	if m["pr-a"] != -3 {
		t.Fatalf("expected pr-a delta -3, got %d", m["pr-a"])
	}
	if m["pr-b"] != -1 {
		t.Fatalf("expected pr-b delta -1, got %d", m["pr-b"])
	}
}

func TestDiffRestoresRemovedItems(t *testing.T) {
	oldGoods := []domain.Goods{goods("pr-a", 3, 10)}

	m := deltaMap(Diff(oldGoods, nil))
	if m["pr-a"] != 3 {
		t.Fatalf("expected pr-a delta +3, got %d", m["pr-a"])
	}
}

func TestDiffIdenticalSetsIsEmpty(t *testing.T) {
	set := []domain.Goods{goods("pr-a", 2, 10), goods("pr-b", 7, 15)}

	if deltas := Diff(set, set); len(deltas) != 0 {
		t.Fatalf("expected no deltas for identical sets, got %v", deltas)
	}
}

func TestDiffMixedScenario(t *testing.T) {
	oldGoods := []domain.Goods{
		goods("pr-a", 2, 10), // shrinks
		goods("pr-b", 4, 15), // removed
		goods("pr-c", 1, 20), // unchanged
	}
	newGoods := []domain.Goods{
		goods("pr-a", 1, 10),
		goods("pr-c", 1, 20),
		goods("pr-d", 6, 30), // added
	}

	m := deltaMap(Diff(oldGoods, newGoods))
	if m["pr-a"] != 1 {
		t.Fatalf("expected pr-a delta +1, got %d", m["pr-a"])
	}
	if m["pr-b"] != 4 {
		t.Fatalf("expected pr-b delta +4, got %d", m["pr-b"])
	}
	if _, ok := m["pr-c"]; ok {
		t.Fatalf("unchanged item must not produce a delta")
	}
	if m["pr-d"] != -6 {
		t.Fatalf("expected pr-d delta -6, got %d", m["pr-d"])
	}
}
