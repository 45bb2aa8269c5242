// Package fields turns raw document text, or a parsed CFDI, into the
// canonical ExtractedFields record.
//
// Every rule is a pure function of the text. Rules never fail: a field
// whose rule does not match is left null. Amounts are decimals with two
// places, dates are YYYY-MM-DD and payment methods are one of cash, card,
// transfer or check.
package fields

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"docfields/internal/cfdi"
	"docfields/internal/logger"
	"docfields/pkg/models"
)

// Extractor applies the rule set to text.
type Extractor struct {
	rules   Rules
	amounts []compiledAmountRule
	catalog *Catalog
	log     zerolog.Logger
}

// NewExtractor creates an Extractor with the default rules. A nil catalog
// selects the built-in vendor list.
func NewExtractor(catalog *Catalog) *Extractor {
	return NewExtractorWithRules(DefaultRules(), catalog)
}

// NewExtractorWithRules creates an Extractor with a custom rule set.
func NewExtractorWithRules(rules Rules, catalog *Catalog) *Extractor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Extractor{
		rules:   rules,
		amounts: compileAmountRules(rules.Amounts),
		catalog: catalog,
		log:     logger.WithComponent("fields"),
	}
}

// FromText extracts fields from OCR text. It never fails; unmatched fields
// stay nil.
func (e *Extractor) FromText(text string) models.ExtractedFields {
	fields := models.NewExtractedFields()
	if strings.TrimSpace(text) == "" {
		return fields
	}

	for _, rule := range e.amounts {
		m, label, ok := rule.find(text)
		if !ok {
			continue
		}
		amount := models.NewAmount(m.value)
		switch rule.Field {
		case models.FieldTotal:
			fields.Total = amount
		case models.FieldSubtotal:
			fields.Subtotal = amount
		case models.FieldTaxAmount:
			fields.TaxAmount = amount
		}
		e.log.Debug().
			Str("field", rule.Field).
			Str("label", label).
			Str("value", amount.String()).
			Msg("Amount rule matched")
	}

	if name, ok := e.catalog.Match(text); ok {
		fields.VendorName = models.StringPtr(name)
		e.log.Debug().Str("vendor", name).Msg("Vendor matched catalog")
	} else if name, ok := firstHeaderLine(text); ok {
		fields.VendorName = models.StringPtr(name)
		e.log.Debug().Str("vendor", name).Msg("Vendor taken from header line")
	}

	if id, ok := findTaxID(text); ok {
		fields.TaxID = models.StringPtr(id)
	}
	if date, ok := findDate(text); ok {
		fields.Date = models.StringPtr(date)
	}
	if method, ok := findKeyword(e.rules.Payments, text); ok {
		fields.PaymentMethod = models.StringPtr(method)
	}

	fields.LineItems = findLineItems(text, e.rules.Summary)

	return fields
}

// FromInvoice maps a parsed CFDI onto ExtractedFields. Values are copied
// verbatim; no text rules run.
func (e *Extractor) FromInvoice(inv *cfdi.Invoice) models.ExtractedFields {
	fields := models.NewExtractedFields()
	if inv == nil {
		return fields
	}

	fields.VendorName = models.StringPtr(inv.IssuerName)
	fields.TaxID = models.StringPtr(inv.IssuerTaxID)
	fields.PaymentMethod = models.StringPtr(inv.PaymentMethod())
	if d := inv.IssueDate(); d != "" {
		if v, ok := findDate(d); ok {
			fields.Date = models.StringPtr(v)
		}
	}
	fields.Total = optionalAmount(inv.Total)
	fields.Subtotal = optionalAmount(inv.Subtotal)
	fields.TaxAmount = optionalAmount(inv.Tax)

	for _, c := range inv.Concepts {
		fields.LineItems = append(fields.LineItems, models.LineItem{
			Description: c.Description,
			Quantity:    models.Amount{Decimal: c.Quantity},
			UnitPrice:   models.Amount{Decimal: c.UnitPrice.Round(2)},
		})
	}

	return fields
}

func optionalAmount(d *decimal.Decimal) *models.Amount {
	if d == nil {
		return nil
	}
	return models.NewAmount(*d)
}
