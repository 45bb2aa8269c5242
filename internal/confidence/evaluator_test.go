package confidence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docfields/internal/confidence"
	"docfields/pkg/models"
)

func complete() models.ExtractedFields {
	f := models.NewExtractedFields()
	f.Total = models.MustAmount("116.00")
	f.VendorName = models.StringPtr("OXXO")
	f.TaxID = models.StringPtr("CCO8605231N4")
	return f
}

func TestEvaluate(t *testing.T) {
	e := confidence.NewEvaluator(0)
	attempt := &models.EngineAttempt{Confidence: 91.6}

	full := complete()
	assert.Equal(t, 92, e.Evaluate(&full, attempt, models.SourceOCR))
	assert.Equal(t, 100, e.Evaluate(&full, nil, models.SourceXML))
	assert.Equal(t, 0, e.Evaluate(&full, nil, models.SourceOCR), "no attempt means no base")

	noTax := complete()
	noTax.TaxID = nil
	assert.Equal(t, 67, e.Evaluate(&noTax, attempt, models.SourceOCR))

	onlyVendor := models.NewExtractedFields()
	onlyVendor.VendorName = models.StringPtr("OXXO")
	assert.Equal(t, 42, e.Evaluate(&onlyVendor, attempt, models.SourceOCR))
	assert.Equal(t, 50, e.Evaluate(&onlyVendor, nil, models.SourceXML))
}

func TestEvaluateZeroWhenNothingUsable(t *testing.T) {
	e := confidence.NewEvaluator(10)

	f := models.NewExtractedFields()
	f.TaxID = models.StringPtr("EKU9003173C9")
	f.Date = models.StringPtr("2024-03-15")

	assert.Equal(t, 0, e.Evaluate(&f, &models.EngineAttempt{Confidence: 99}, models.SourceOCR))
	assert.Equal(t, 0, e.Evaluate(&f, nil, models.SourceXML))
	assert.Equal(t, 0, e.Evaluate(nil, nil, models.SourceXML))
}

func TestEvaluateFloorsAtZero(t *testing.T) {
	e := confidence.NewEvaluator(40)

	f := models.NewExtractedFields()
	f.Total = models.MustAmount("1.00")

	assert.Equal(t, 0, e.Evaluate(&f, &models.EngineAttempt{Confidence: 55}, models.SourceOCR))
}

// Adding a critical field never lowers the score.
func TestEvaluateMonotonic(t *testing.T) {
	e := confidence.NewEvaluator(0)
	attempt := &models.EngineAttempt{Confidence: 80}

	setters := []func(*models.ExtractedFields){
		func(f *models.ExtractedFields) { f.Total = models.MustAmount("10.00") },
		func(f *models.ExtractedFields) { f.VendorName = models.StringPtr("Soriana") },
		func(f *models.ExtractedFields) { f.TaxID = models.StringPtr("SOR810511HN9") },
	}

	for mask := 0; mask < 1<<len(setters); mask++ {
		base := models.NewExtractedFields()
		for i, set := range setters {
			if mask&(1<<i) != 0 {
				set(&base)
			}
		}
		before := e.Evaluate(&base, attempt, models.SourceOCR)

		for i, set := range setters {
			if mask&(1<<i) != 0 {
				continue
			}
			more := base
			set(&more)
			assert.GreaterOrEqual(t, e.Evaluate(&more, attempt, models.SourceOCR), before, "mask %b + field %d", mask, i)
		}
	}
}
