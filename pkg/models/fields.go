package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a decimal value carried with two-place precision.
// It marshals to a bare JSON number such as 1500.00.
type Amount struct {
	decimal.Decimal
}

// NewAmount rounds d to two places and returns a pointer suitable for a nullable field.
func NewAmount(d decimal.Decimal) *Amount {
	return &Amount{Decimal: d.Round(2)}
}

// MustAmount parses s and panics on failure. Intended for tests and constants.
func MustAmount(s string) *Amount {
	return NewAmount(decimal.RequireFromString(s))
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

// UnmarshalJSON implements json.Unmarshaler. Both quoted and bare numbers are accepted.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.Decimal = d.Round(2)
	return nil
}

// String returns the two-place representation.
func (a Amount) String() string {
	return a.StringFixed(2)
}

// LineItem is one purchased item as printed on the document.
type LineItem struct {
	Description string `json:"description"`
	Quantity    Amount `json:"quantity"`
	UnitPrice   Amount `json:"unit_price"`
}

// ExtractedFields is the canonical set of transaction fields.
//
// Every field is nullable: a nil pointer means "not extracted" and is
// serialized as JSON null, never omitted and never defaulted to zero.
type ExtractedFields struct {
	VendorName    *string    `json:"vendor_name"`
	TaxID         *string    `json:"tax_id"`
	Date          *string    `json:"date"` // YYYY-MM-DD
	Subtotal      *Amount    `json:"subtotal"`
	TaxAmount     *Amount    `json:"tax_amount"`
	Total         *Amount    `json:"total"`
	PaymentMethod *string    `json:"payment_method"`
	LineItems     []LineItem `json:"line_items"`
}

// NewExtractedFields returns an empty field set whose line items serialize as [].
func NewExtractedFields() ExtractedFields {
	return ExtractedFields{LineItems: []LineItem{}}
}

// Field names as they appear in JSON and logs.
const (
	FieldTotal         = "total"
	FieldSubtotal      = "subtotal"
	FieldTaxAmount     = "tax_amount"
	FieldVendor        = "vendor_name"
	FieldTaxID         = "tax_id"
	FieldDate          = "date"
	FieldPaymentMethod = "payment_method"
)

// MissingCritical lists the critical fields that were not extracted.
func (f *ExtractedFields) MissingCritical() []string {
	var missing []string
	if f.Total == nil {
		missing = append(missing, FieldTotal)
	}
	if f.VendorName == nil {
		missing = append(missing, FieldVendor)
	}
	if f.TaxID == nil {
		missing = append(missing, FieldTaxID)
	}
	return missing
}

// Usable reports whether anything a ledger entry can be built from was recovered.
func (f *ExtractedFields) Usable() bool {
	return f.Total != nil || f.VendorName != nil
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
