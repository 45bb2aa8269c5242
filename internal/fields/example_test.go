package fields_test

import (
	"fmt"

	"docfields/internal/fields"
)

// ExampleExtractor_FromText extracts fields from OCR text of a store receipt.
func ExampleExtractor_FromText() {
	text := "OXXO\nRFC: CCO8605231N4\n15/03/2024\nTOTAL $52.50\nEFECTIVO $100.00\n"

	f := fields.NewExtractor(nil).FromText(text)

	fmt.Println("vendor:", *f.VendorName)
	fmt.Println("rfc:", *f.TaxID)
	fmt.Println("date:", *f.Date)
	fmt.Println("total:", f.Total)
	fmt.Println("paid with:", *f.PaymentMethod)
	fmt.Println("missing:", f.MissingCritical())
	// Output:
	// vendor: OXXO
	// rfc: CCO8605231N4
	// date: 2024-03-15
	// total: 52.50
	// paid with: cash
	// missing: []
}

// ExampleLoadCatalog shows a vendor catalog that recognizes a local business.
func ExampleLoadCatalog() {
	// vendors.yaml:
	//
	//	vendors:
	//	  - name: Tacos El Güero
	//	    aliases: ["TACOS EL GUERO"]
	catalog, err := fields.LoadCatalog("vendors.yaml")
	if err != nil {
		fmt.Println(err)
		return
	}

	f := fields.NewExtractor(catalog).FromText("TACOS EL GUERO\nTOTAL 85.00\n")
	fmt.Println(*f.VendorName)
}
