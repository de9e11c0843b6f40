package validate_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
	"github.com/openfaktur/einvoice/internal/validate"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// consistentInvoice builds an arithmetically correct two-line invoice:
// 10 x 12.50 + 2 x 37.50 = 200.00 net, 19% VAT, 238.00 gross.
func consistentInvoice() *model.CanonicalInvoice {
	return &model.CanonicalInvoice{
		InvoiceNumber:   "RE-1",
		IssueDate:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		InvoiceTypeCode: "380",
		CurrencyCode:    "EUR",
		Seller:          model.Party{Name: "Muster GmbH", VATID: "DE123456789"},
		Buyer:           model.Party{Name: "Handel AG"},
		Lines: []model.InvoiceLine{
			{LineID: "1", ItemName: "Winkel", Quantity: d("10"), UnitCode: "H87", UnitPrice: d("12.50"), LineNetAmount: d("125.00"), TaxCategory: model.TaxCategoryStandard, TaxRate: d("19")},
			{LineID: "2", ItemName: "Platte", Quantity: d("2"), UnitCode: "H87", UnitPrice: d("37.50"), LineNetAmount: d("75.00"), TaxCategory: model.TaxCategoryStandard, TaxRate: d("19")},
		},
		LineExtensionAmount:  d("200.00"),
		AllowanceTotalAmount: decimal.Zero,
		ChargeTotalAmount:    decimal.Zero,
		TaxExclusiveAmount:   d("200.00"),
		TaxInclusiveAmount:   d("238.00"),
		PayableAmount:        d("238.00"),
		TaxBreakdown: []model.TaxBreakdown{
			{TaxCategory: model.TaxCategoryStandard, TaxRate: d("19"), TaxableAmount: d("200.00"), TaxAmount: d("38.00")},
		},
	}
}

func findCode(findings []report.Finding, code string) *report.Finding {
	for i := range findings {
		if findings[i].Code == code {
			return &findings[i]
		}
	}
	return nil
}

func TestCalculationConsistentInvoice(t *testing.T) {
	v := validate.NewCalculationValidator()
	assert.Empty(t, v.Validate(consistentInvoice()))
}

func TestCalculationLineTotalMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.Lines[0].LineNetAmount = d("130.00")
	// Keep the document totals consistent with the declared line amounts
	// so only the line check fires.
	inv.LineExtensionAmount = d("205.00")
	inv.TaxExclusiveAmount = d("205.00")
	inv.TaxInclusiveAmount = d("243.95")
	inv.PayableAmount = d("243.95")
	inv.TaxBreakdown[0].TaxableAmount = d("205.00")
	inv.TaxBreakdown[0].TaxAmount = d("38.95")

	findings := validate.NewCalculationValidator().Validate(inv)
	f := findCode(findings, validate.CodeCalcLineTotalMismatch)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityError, f.Severity)
	assert.Equal(t, "125.00", f.ExpectedValue)
	assert.Equal(t, "130.00", f.ActualValue)
	assert.Len(t, findings, 1)
}

func TestCalculationTaxExclusiveMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.TaxExclusiveAmount = d("210.00")
	inv.TaxInclusiveAmount = d("248.00")
	inv.PayableAmount = d("248.00")

	findings := validate.NewCalculationValidator().Validate(inv)
	f := findCode(findings, validate.CodeCalcTaxExclusiveMismatch)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityError, f.Severity)
}

func TestCalculationBreakdownMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.TaxBreakdown[0].TaxAmount = d("35.00")
	inv.TaxInclusiveAmount = d("235.00")
	inv.PayableAmount = d("235.00")

	findings := validate.NewCalculationValidator().Validate(inv)
	f := findCode(findings, "CALC_TAX_BREAKDOWN_MISMATCH_19PCT")
	require.NotNil(t, f)
	assert.Equal(t, "38.00", f.ExpectedValue)
	assert.Equal(t, "35.00", f.ActualValue)
}

func TestCalculationInclusiveMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.TaxInclusiveAmount = d("240.00")
	inv.PayableAmount = d("240.00")

	findings := validate.NewCalculationValidator().Validate(inv)
	require.NotNil(t, findCode(findings, validate.CodeCalcTaxInclusiveMismatch))
}

func TestCalculationPayableMismatchIsWarning(t *testing.T) {
	inv := consistentInvoice()
	// A prepaid amount legitimately reduces the payable total.
	inv.PayableAmount = d("138.00")

	findings := validate.NewCalculationValidator().Validate(inv)
	f := findCode(findings, validate.CodeCalcPayableMismatch)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityWarning, f.Severity)
	assert.False(t, f.Severity.Blocking())
	assert.Len(t, findings, 1)
}

func TestCalculationToleranceBoundary(t *testing.T) {
	tests := []struct {
		name      string
		inclusive string
		wantOK    bool
	}{
		{"exact", "238.00", true},
		{"one cent off", "238.01", true},
		{"two cents off", "238.02", true},
		{"three cents off", "238.03", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := consistentInvoice()
			inv.TaxInclusiveAmount = d(tt.inclusive)
			inv.PayableAmount = d(tt.inclusive)

			findings := validate.NewCalculationValidator().Validate(inv)
			f := findCode(findings, validate.CodeCalcTaxInclusiveMismatch)
			if tt.wantOK {
				assert.Nil(t, f)
			} else {
				assert.NotNil(t, f)
			}
		})
	}
}

func TestCalculationReverseChargeZeroTax(t *testing.T) {
	inv := consistentInvoice()
	inv.TaxBreakdown = []model.TaxBreakdown{
		{TaxCategory: model.TaxCategoryReverseCharge, TaxRate: decimal.Zero, TaxableAmount: d("200.00"), TaxAmount: decimal.Zero},
	}
	inv.TaxInclusiveAmount = d("200.00")
	inv.PayableAmount = d("200.00")
	inv.Lines[0].TaxCategory = model.TaxCategoryReverseCharge
	inv.Lines[0].TaxRate = decimal.Zero
	inv.Lines[1].TaxCategory = model.TaxCategoryReverseCharge
	inv.Lines[1].TaxRate = decimal.Zero

	assert.Empty(t, validate.NewCalculationValidator().Validate(inv))
	assert.True(t, inv.IsReverseCharge())
}
