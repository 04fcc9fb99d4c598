// Package oid generates and validates the prefixed entity identifiers used
// across the billing records ("cl-", "pr-", "inv-", "ph-").
package oid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixClient       = "cl"
	PrefixProduct      = "pr"
	PrefixInvoice      = "inv"
	PrefixPriceHistory = "ph"
)

// ErrInvalid reports a malformed identifier. It carries the entity kind so
// callers can surface "Invalid Invoice ID format" style messages.
type ErrInvalid struct {
	Kind string
	ID   string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("invalid %s ID format: %q", e.Kind, e.ID)
}

// New returns a fresh identifier with the given prefix.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Parse validates that id is a well-formed identifier carrying the expected
// prefix. kind names the entity for error reporting ("Client", "Invoice").
func Parse(id string, prefix string, kind string) error {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return &ErrInvalid{Kind: kind, ID: id}
	}
	if _, err := uuid.Parse(rest); err != nil {
		return &ErrInvalid{Kind: kind, ID: id}
	}
	return nil
}
