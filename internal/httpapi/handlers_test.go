package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fakturin/backend/internal/cache"
	"fakturin/backend/internal/domain"
	"fakturin/backend/internal/oid"
	"fakturin/backend/internal/service"
	"fakturin/backend/internal/store/memory"
)

func newTestAPI() http.Handler {
	svc := service.New(memory.New(), cache.NoopSummaryCache{}, 5*time.Second)
	return New(svc, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createClient(t *testing.T, handler http.Handler, username string) domain.Client {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/clients", map[string]string{
		"username":     username,
		"phone":        "+62-811-000-000",
		"company_name": "Test Co",
		"city":         "Jakarta",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create client: status %d body %s", rec.Code, rec.Body)
	}
	return decodeBody[domain.Client](t, rec)
}

func createProduct(t *testing.T, handler http.Handler, name string, price string, stock int64) domain.Product {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", map[string]any{
		"name":  name,
		"price": price,
		"stock": stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: status %d body %s", rec.Code, rec.Body)
	}
	return decodeBody[domain.Product](t, rec)
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestAPI(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestInvoiceFlowOverHTTP(t *testing.T) {
	handler := newTestAPI()

	client := createClient(t, handler, "toko-a")
	product := createProduct(t, handler, "Beras", "78000", 40)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices", map[string]any{
		"client_id": client.ID,
		"goods": []map[string]any{{
			"product_id": product.ID,
			"quantity":   2,
			"unit_price": "78000",
			"name":       product.Name,
		}},
		"total_paid": "78000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invoice: status %d body %s", rec.Code, rec.Body)
	}
	inv := decodeBody[domain.Invoice](t, rec)
	if inv.Status != domain.InvoiceStatusPartialPaid {
		t.Fatalf("expected PartialPaid, got %s", inv.Status)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID+"/stock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get stock: status %d", rec.Code)
	}
	stock := decodeBody[map[string]int64](t, rec)
	if stock["stock"] != 38 {
		t.Fatalf("expected stock 38, got %d", stock["stock"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/clients/"+client.ID, nil)
	reloaded := decodeBody[domain.Client](t, rec)
	if len(reloaded.Invoices) != 1 || reloaded.Invoices[0] != inv.ID {
		t.Fatalf("expected invoice attached to client, got %v", reloaded.Invoices)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/clients/"+client.ID+"/invoices", nil)
	invoices := decodeBody[[]domain.Invoice](t, rec)
	if len(invoices) != 1 {
		t.Fatalf("expected one invoice for client, got %d", len(invoices))
	}
}

func TestAmendInvoiceOverHTTP(t *testing.T) {
	handler := newTestAPI()

	client := createClient(t, handler, "toko-a")
	product := createProduct(t, handler, "Beras", "100", 10)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices", map[string]any{
		"client_id": client.ID,
		"goods": []map[string]any{{
			"product_id": product.ID,
			"quantity":   2,
			"unit_price": "100",
			"name":       product.Name,
		}},
		"total_paid": "0",
	})
	inv := decodeBody[domain.Invoice](t, rec)

	rec = doJSON(t, handler, http.MethodPut, "/api/v1/invoices/"+inv.ID, map[string]any{
		"goods": []map[string]any{{
			"product_id": product.ID,
			"quantity":   5,
			"unit_price": "100",
			"name":       product.Name,
		}},
		"total_paid": "500",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("amend invoice: status %d body %s", rec.Code, rec.Body)
	}
	amended := decodeBody[domain.Invoice](t, rec)
	if amended.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected Paid after full payment, got %s", amended.Status)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID+"/stock", nil)
	stock := decodeBody[map[string]int64](t, rec)
	if stock["stock"] != 5 {
		t.Fatalf("expected stock 5 after amend to quantity 5, got %d", stock["stock"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	handler := newTestAPI()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/clients/not-a-real-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
	envelope := decodeBody[ErrorResponse](t, rec)
	if envelope.Code != 400 || envelope.Message != "Invalid Client ID format" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/clients/"+oid.New(oid.PrefixClient), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body)
	}
	envelope = decodeBody[ErrorResponse](t, rec)
	if envelope.Message != "Not found" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestInsufficientStockOverHTTP(t *testing.T) {
	handler := newTestAPI()

	client := createClient(t, handler, "toko-a")
	product := createProduct(t, handler, "Beras", "100", 1)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/invoices", map[string]any{
		"client_id": client.ID,
		"goods": []map[string]any{{
			"product_id": product.ID,
			"quantity":   5,
			"unit_price": "100",
			"name":       product.Name,
		}},
		"total_paid": "0",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body)
	}
	envelope := decodeBody[ErrorResponse](t, rec)
	if envelope.Message != "Insufficient stock" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID+"/stock", nil)
	stock := decodeBody[map[string]int64](t, rec)
	if stock["stock"] != 1 {
		t.Fatalf("rejected sale must not touch stock, got %d", stock["stock"])
	}
}

func TestMalformedBody(t *testing.T) {
	handler := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	envelope := decodeBody[ErrorResponse](t, rec)
	if envelope.Message != "Malformed request body" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestPreflightAndCORSHeaders(t *testing.T) {
	handler := newTestAPI()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/clients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS origin header")
	}
}
