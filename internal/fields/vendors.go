package fields

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"gopkg.in/yaml.v3"
)

// Vendor is a catalog entry: the canonical name and the spellings that
// identify it on a receipt.
type Vendor struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type catalogEntry struct {
	name    string
	aliases []string // folded
}

// Catalog is an ordered list of known vendors.
type Catalog struct {
	entries []catalogEntry
}

var defaultVendors = []Vendor{
	{Name: "OXXO", Aliases: []string{"OXXO", "CADENA COMERCIAL OXXO"}},
	{Name: "7-Eleven", Aliases: []string{"7-ELEVEN", "7 ELEVEN", "SEVEN ELEVEN"}},
	{Name: "Walmart", Aliases: []string{"WALMART", "WAL-MART", "WAL MART", "NUEVA WAL MART"}},
	{Name: "Bodega Aurrera", Aliases: []string{"BODEGA AURRERA", "AURRERA"}},
	{Name: "Sam's Club", Aliases: []string{"SAM'S CLUB", "SAMS CLUB"}},
	{Name: "Soriana", Aliases: []string{"SORIANA", "TIENDAS SORIANA"}},
	{Name: "Chedraui", Aliases: []string{"CHEDRAUI", "TIENDAS CHEDRAUI"}},
	{Name: "La Comer", Aliases: []string{"LA COMER", "CITY MARKET", "FRESKO"}},
	{Name: "HEB", Aliases: []string{"H-E-B", "HEB"}},
	{Name: "Costco", Aliases: []string{"COSTCO", "COSTCO WHOLESALE"}},
	{Name: "The Home Depot", Aliases: []string{"HOME DEPOT", "THE HOME DEPOT"}},
	{Name: "Office Depot", Aliases: []string{"OFFICE DEPOT"}},
	{Name: "Liverpool", Aliases: []string{"LIVERPOOL", "EL PUERTO DE LIVERPOOL"}},
	{Name: "Sanborns", Aliases: []string{"SANBORNS", "SANBORN HERMANOS"}},
	{Name: "Starbucks", Aliases: []string{"STARBUCKS", "STARBUCKS COFFEE"}},
	{Name: "Farmacias Guadalajara", Aliases: []string{"FARMACIAS GUADALAJARA", "FARMACIA GUADALAJARA"}},
	{Name: "Farmacias del Ahorro", Aliases: []string{"FARMACIAS DEL AHORRO", "FARMACIA DEL AHORRO"}},
	{Name: "Farmacias Benavides", Aliases: []string{"FARMACIAS BENAVIDES", "BENAVIDES"}},
	{Name: "Pemex", Aliases: []string{"PEMEX", "GASOLINERA PEMEX"}},
	{Name: "Telcel", Aliases: []string{"TELCEL", "RADIOMOVIL DIPSA"}},
}

// DefaultCatalog returns the built-in vendor catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultVendors)
}

// NewCatalog builds a catalog. Earlier vendors win ties.
func NewCatalog(vendors []Vendor) *Catalog {
	c := &Catalog{}
	for _, v := range vendors {
		if strings.TrimSpace(v.Name) == "" {
			continue
		}
		e := catalogEntry{name: v.Name}
		aliases := v.Aliases
		if len(aliases) == 0 {
			aliases = []string{v.Name}
		}
		for _, a := range aliases {
			if f := fold(a); f != "" {
				e.aliases = append(e.aliases, f)
			}
		}
		c.entries = append(c.entries, e)
	}
	return c
}

// LoadCatalog reads a YAML vendor list and places it ahead of the built-in
// catalog:
//
//	vendors:
//	  - name: Tacos El Güero
//	    aliases: ["TACOS EL GUERO", "TAQUERIA EL GUERO"]
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vendor catalog: %w", err)
	}

	var doc struct {
		Vendors []Vendor `yaml:"vendors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing vendor catalog %s: %w", path, err)
	}

	return NewCatalog(append(doc.Vendors, defaultVendors...)), nil
}

// Len returns the number of vendors in the catalog.
func (c *Catalog) Len() int { return len(c.entries) }

// Match finds the catalog vendor whose alias appears earliest in text. Exact
// word matches anywhere are tried first. Failing that, aliases of six or
// more characters match OCR misreads within one edit in the header lines.
func (c *Catalog) Match(text string) (string, bool) {
	folded := fold(text)
	if folded == "" {
		return "", false
	}

	best, bestPos := "", -1
	for _, e := range c.entries {
		for _, alias := range e.aliases {
			if pos, ok := containsWord(folded, alias); ok && (bestPos < 0 || pos < bestPos) {
				best, bestPos = e.name, pos
			}
		}
	}
	if bestPos >= 0 {
		return best, true
	}

	return c.fuzzyMatch(text)
}

const fuzzyHeaderLines = 5

func (c *Catalog) fuzzyMatch(text string) (string, bool) {
	var header []string
	for _, line := range lines(text) {
		if line == "" {
			continue
		}
		header = append(header, fold(line))
		if len(header) == fuzzyHeaderLines {
			break
		}
	}

	tokens := strings.Fields(strings.Join(header, " "))
	for i := range tokens {
		for _, e := range c.entries {
			for _, alias := range e.aliases {
				if len(alias) < 6 {
					continue
				}
				n := len(strings.Fields(alias))
				if i+n > len(tokens) {
					continue
				}
				window := strings.Join(tokens[i:i+n], " ")
				if levenshtein.Distance(window, alias, nil) <= 1 {
					return e.name, true
				}
			}
		}
	}
	return "", false
}

const maxVendorLength = 80

var headerNoise = regexp.MustCompile(`(?i)^(?:R\.?\s?F\.?\s?C|TEL|TELEFONO|TELÉFONO|PHONE|FAX|CALLE|AV|AVE|AVENIDA|BLVD|COL|COLONIA|C\.?\s?P|CP|DIRECCION|DIRECCIÓN|DOMICILIO|ADDRESS|FOLIO|TICKET|FACTURA|FECHA|DATE|HORA|CAJA|CAJERO|SUCURSAL|TIENDA|NO|WWW|HTTP|---)(?:[^\p{L}]|$)`)

// firstHeaderLine returns the first line that looks like a business name,
// skipping address, phone and tax registration boilerplate.
func firstHeaderLine(text string) (string, bool) {
	for _, line := range lines(text) {
		if line == "" || headerNoise.MatchString(line) || strings.Contains(line, "@") {
			continue
		}
		if !mostlyLetters(line) {
			continue
		}
		if _, ok := findTaxID(line); ok {
			continue
		}
		name := []rune(strings.Join(strings.Fields(line), " "))
		if len(name) > maxVendorLength {
			name = name[:maxVendorLength]
		}
		return string(name), true
	}
	return "", false
}

func mostlyLetters(s string) bool {
	var letters, others int
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
		default:
			others++
		}
	}
	return letters >= 3 && letters > others
}
