// Package cfdi parses Mexican CFDI electronic invoices (versions 3.2, 3.3
// and 4.0). A CFDI is already machine readable, so its values are trusted
// as-is and never go through OCR.
package cfdi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotCFDI is returned when the XML root is not a Comprobante element.
	ErrNotCFDI = errors.New("document is not a CFDI Comprobante")

	// ErrMalformedXML is returned when the payload cannot be decoded as XML.
	ErrMalformedXML = errors.New("malformed XML document")
)

// Invoice is the subset of a CFDI the extraction pipeline consumes.
type Invoice struct {
	Version     string
	IssuerTaxID string
	IssuerName  string
	IssuedAt    string // Fecha attribute as printed, e.g. 2024-03-15T10:22:00
	Currency    string
	PaymentForm string // SAT FormaPago code, e.g. "01"
	Subtotal    *decimal.Decimal
	Tax         *decimal.Decimal
	Total       *decimal.Decimal
	Concepts    []Concept
}

// Concept is one Concepto line.
type Concept struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Element names are matched by local name so any namespace prefix works.
// Lower-case attributes belong to CFDI 3.2.
type comprobante struct {
	XMLName xml.Name

	Version    string `xml:"Version,attr"`
	VersionOld string `xml:"version,attr"`
	Fecha      string `xml:"Fecha,attr"`
	FechaOld   string `xml:"fecha,attr"`
	SubTotal   string `xml:"SubTotal,attr"`
	SubOld     string `xml:"subTotal,attr"`
	Total      string `xml:"Total,attr"`
	TotalOld   string `xml:"total,attr"`
	Moneda     string `xml:"Moneda,attr"`
	FormaPago  string `xml:"FormaPago,attr"`
	FormaOld   string `xml:"formaDePago,attr"`

	Emisor struct {
		Rfc       string `xml:"Rfc,attr"`
		RfcOld    string `xml:"rfc,attr"`
		Nombre    string `xml:"Nombre,attr"`
		NombreOld string `xml:"nombre,attr"`
	} `xml:"Emisor"`

	Impuestos struct {
		Trasladados    string `xml:"TotalImpuestosTrasladados,attr"`
		TrasladadosOld string `xml:"totalImpuestosTrasladados,attr"`
	} `xml:"Impuestos"`

	Conceptos struct {
		Items []struct {
			Descripcion    string `xml:"Descripcion,attr"`
			DescripcionOld string `xml:"descripcion,attr"`
			Cantidad       string `xml:"Cantidad,attr"`
			CantidadOld    string `xml:"cantidad,attr"`
			ValorUnitario  string `xml:"ValorUnitario,attr"`
			ValorOld       string `xml:"valorUnitario,attr"`
		} `xml:"Concepto"`
	} `xml:"Conceptos"`
}

// LooksLikeCFDI is a cheap sniff used during media type detection.
func LooksLikeCFDI(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(head, []byte("Comprobante"))
}

// Parse decodes a CFDI document.
func Parse(data []byte) (*Invoice, error) {
	var c comprobante
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}
	if c.XMLName.Local != "Comprobante" {
		return nil, fmt.Errorf("%w: root element is %q", ErrNotCFDI, c.XMLName.Local)
	}

	inv := &Invoice{
		Version:     first(c.Version, c.VersionOld),
		IssuerTaxID: strings.ToUpper(strings.TrimSpace(first(c.Emisor.Rfc, c.Emisor.RfcOld))),
		IssuerName:  strings.TrimSpace(first(c.Emisor.Nombre, c.Emisor.NombreOld)),
		IssuedAt:    strings.TrimSpace(first(c.Fecha, c.FechaOld)),
		Currency:    strings.TrimSpace(c.Moneda),
		PaymentForm: strings.TrimSpace(first(c.FormaPago, c.FormaOld)),
	}

	var err error
	if inv.Subtotal, err = optionalDecimal("SubTotal", first(c.SubTotal, c.SubOld)); err != nil {
		return nil, err
	}
	if inv.Total, err = optionalDecimal("Total", first(c.Total, c.TotalOld)); err != nil {
		return nil, err
	}
	if inv.Tax, err = optionalDecimal("TotalImpuestosTrasladados", first(c.Impuestos.Trasladados, c.Impuestos.TrasladadosOld)); err != nil {
		return nil, err
	}

	for i, item := range c.Conceptos.Items {
		qty, err := optionalDecimal(fmt.Sprintf("Concepto[%d].Cantidad", i), first(item.Cantidad, item.CantidadOld))
		if err != nil {
			return nil, err
		}
		price, err := optionalDecimal(fmt.Sprintf("Concepto[%d].ValorUnitario", i), first(item.ValorUnitario, item.ValorOld))
		if err != nil {
			return nil, err
		}
		concept := Concept{Description: strings.TrimSpace(first(item.Descripcion, item.DescripcionOld))}
		if qty != nil {
			concept.Quantity = *qty
		}
		if price != nil {
			concept.UnitPrice = *price
		}
		inv.Concepts = append(inv.Concepts, concept)
	}

	return inv, nil
}

// IssueDate returns the YYYY-MM-DD part of the Fecha attribute, or "" when absent.
func (i *Invoice) IssueDate() string {
	if len(i.IssuedAt) < 10 {
		return ""
	}
	return i.IssuedAt[:10]
}

// PaymentMethod maps the SAT FormaPago catalog onto the pipeline's payment methods.
func (i *Invoice) PaymentMethod() string {
	switch i.PaymentForm {
	case "01":
		return "cash"
	case "02":
		return "check"
	case "03":
		return "transfer"
	case "04", "28", "29":
		return "card"
	default:
		return ""
	}
}

func optionalDecimal(name, raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: attribute %s=%q is not a number", ErrMalformedXML, name, raw)
	}
	return &d, nil
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
