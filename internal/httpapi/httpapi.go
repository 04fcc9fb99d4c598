// Package httpapi exposes the billing service over HTTP/JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"fakturin/backend/internal/oid"
	"fakturin/backend/internal/service"
	"fakturin/backend/internal/store"
)

type API struct {
	service       *service.Service
	allowedOrigin string
}

func New(svc *service.Service, allowedOrigin string) *API {
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
	}
}

// ErrorResponse is the error envelope returned on every failure: an
// HTTP-like code, a short message, and an optional detail string.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /api/v1/clients", a.handleCreateClient)
	mux.HandleFunc("GET /api/v1/clients", a.handleListClients)
	mux.HandleFunc("GET /api/v1/clients/{id}", a.handleGetClient)
	mux.HandleFunc("PATCH /api/v1/clients/{id}", a.handleUpdateClient)
	mux.HandleFunc("DELETE /api/v1/clients/{id}", a.handleDeleteClient)
	mux.HandleFunc("GET /api/v1/clients/{id}/invoices", a.handleListClientInvoices)

	mux.HandleFunc("POST /api/v1/products", a.handleCreateProduct)
	mux.HandleFunc("GET /api/v1/products", a.handleListProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", a.handleGetProduct)
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.handleUpdateProduct)
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.handleDeleteProduct)
	mux.HandleFunc("GET /api/v1/products/{id}/stock", a.handleGetStock)
	mux.HandleFunc("GET /api/v1/products/{id}/price-history", a.handleListPriceHistory)

	mux.HandleFunc("POST /api/v1/invoices", a.handleCreateInvoice)
	mux.HandleFunc("GET /api/v1/invoices", a.handleListInvoices)
	mux.HandleFunc("GET /api/v1/invoices/{id}", a.handleGetInvoice)
	mux.HandleFunc("PUT /api/v1/invoices/{id}", a.handleAmendInvoice)
	mux.HandleFunc("DELETE /api/v1/invoices/{id}", a.handleDeleteInvoice)

	mux.HandleFunc("GET /api/v1/dashboard/summary", a.handleDashboardSummary)

	return a.cors(mux)
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func messageFor(err error) string {
	var invalidID *oid.ErrInvalid
	switch {
	case errors.As(err, &invalidID):
		return "Invalid " + invalidID.Kind + " ID format"
	case errors.Is(err, store.ErrValidation):
		return "Validation failed"
	case errors.Is(err, store.ErrInvalidPayment):
		return "Invalid payment amount"
	case errors.Is(err, store.ErrInsufficientStock):
		return "Insufficient stock"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrConflict):
		return "Conflict"
	default:
		return "Internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := store.Code(err)
	resp := ErrorResponse{Code: code, Message: messageFor(err)}
	if code != 500 {
		resp.Detail = err.Error()
	}
	writeJSON(w, code, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    400,
			Message: "Malformed request body",
			Detail:  err.Error(),
		})
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
