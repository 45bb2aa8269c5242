package cfdi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfields/internal/cfdi"
)

const invoice40 = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Fecha="2024-03-15T10:22:00"
    SubTotal="1293.10" Total="1500.00" Moneda="MXN" FormaPago="04">
  <cfdi:Emisor Rfc="EKU9003173C9" Nombre="ESCUELA KEMPER URGATE" RegimenFiscal="601"/>
  <cfdi:Receptor Rfc="XAXX010101000" Nombre="PUBLICO EN GENERAL"/>
  <cfdi:Conceptos>
    <cfdi:Concepto Cantidad="2" Descripcion="Servicio de consultoria" ValorUnitario="646.55" Importe="1293.10">
      <cfdi:Impuestos>
        <cfdi:Traslados>
          <cfdi:Traslado Base="1293.10" Importe="206.90"/>
        </cfdi:Traslados>
      </cfdi:Impuestos>
    </cfdi:Concepto>
  </cfdi:Conceptos>
  <cfdi:Impuestos TotalImpuestosTrasladados="206.90"/>
</cfdi:Comprobante>`

func TestParse(t *testing.T) {
	inv, err := cfdi.Parse([]byte(invoice40))
	require.NoError(t, err)

	assert.Equal(t, "4.0", inv.Version)
	assert.Equal(t, "EKU9003173C9", inv.IssuerTaxID)
	assert.Equal(t, "ESCUELA KEMPER URGATE", inv.IssuerName)
	assert.Equal(t, "2024-03-15", inv.IssueDate())
	assert.Equal(t, "card", inv.PaymentMethod())
	require.NotNil(t, inv.Total)
	assert.Equal(t, "1500.00", inv.Total.StringFixed(2))
	require.NotNil(t, inv.Subtotal)
	assert.Equal(t, "1293.10", inv.Subtotal.StringFixed(2))
	require.NotNil(t, inv.Tax)
	assert.Equal(t, "206.90", inv.Tax.StringFixed(2))

	require.Len(t, inv.Concepts, 1)
	assert.Equal(t, "Servicio de consultoria", inv.Concepts[0].Description)
	assert.Equal(t, "2", inv.Concepts[0].Quantity.String())
	assert.Equal(t, "646.55", inv.Concepts[0].UnitPrice.StringFixed(2))
}

func TestParseVersion32(t *testing.T) {
	doc := `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/3" version="3.2" fecha="2016-01-05T09:00:00" total="116.00" subTotal="100.00">
  <cfdi:Emisor rfc="aaa010101aaa" nombre="ACME SA DE CV"/>
</cfdi:Comprobante>`

	inv, err := cfdi.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "3.2", inv.Version)
	assert.Equal(t, "AAA010101AAA", inv.IssuerTaxID)
	assert.Equal(t, "2016-01-05", inv.IssueDate())
	assert.Nil(t, inv.Tax)
	assert.Empty(t, inv.PaymentMethod())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not xml", "%PDF-1.7", cfdi.ErrMalformedXML},
		{"truncated", `<cfdi:Comprobante Total="1">`, cfdi.ErrMalformedXML},
		{"other root", `<Invoice><Total>10</Total></Invoice>`, cfdi.ErrNotCFDI},
		{"bad amount", `<Comprobante Total="abc"/>`, cfdi.ErrMalformedXML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cfdi.Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLooksLikeCFDI(t *testing.T) {
	assert.True(t, cfdi.LooksLikeCFDI([]byte(invoice40)))
	assert.False(t, cfdi.LooksLikeCFDI([]byte(`<?xml version="1.0"?><rss/>`)))
}
