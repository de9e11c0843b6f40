package model_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfaktur/einvoice/internal/model"
)

func validInvoice() *model.CanonicalInvoice {
	return &model.CanonicalInvoice{
		InvoiceNumber:   "RE-1",
		IssueDate:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		InvoiceTypeCode: "380",
		CurrencyCode:    "EUR",
		Seller:          model.Party{Name: "Muster GmbH"},
		Buyer:           model.Party{Name: "Handel AG"},
		Lines: []model.InvoiceLine{
			{LineID: "1", ItemName: "Winkel", Quantity: decimal.NewFromInt(10), UnitCode: "H87", UnitPrice: decimal.RequireFromString("12.50"), LineNetAmount: decimal.RequireFromString("125.00"), TaxCategory: model.TaxCategoryStandard, TaxRate: decimal.NewFromInt(19)},
		},
		TaxBreakdown: []model.TaxBreakdown{
			{TaxCategory: model.TaxCategoryStandard, TaxRate: decimal.NewFromInt(19), TaxableAmount: decimal.RequireFromString("125.00"), TaxAmount: decimal.RequireFromString("23.75")},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(inv *model.CanonicalInvoice)
		wantField string
	}{
		{
			name:   "valid invoice",
			mutate: func(inv *model.CanonicalInvoice) {},
		},
		{
			name:      "missing invoice number",
			mutate:    func(inv *model.CanonicalInvoice) { inv.InvoiceNumber = "" },
			wantField: "invoice_number",
		},
		{
			name:      "zero issue date",
			mutate:    func(inv *model.CanonicalInvoice) { inv.IssueDate = time.Time{} },
			wantField: "issue_date",
		},
		{
			name:      "unsupported currency",
			mutate:    func(inv *model.CanonicalInvoice) { inv.CurrencyCode = "JPY" },
			wantField: "currency_code",
		},
		{
			name:      "missing seller name",
			mutate:    func(inv *model.CanonicalInvoice) { inv.Seller.Name = "" },
			wantField: "seller.name",
		},
		{
			name:      "missing buyer name",
			mutate:    func(inv *model.CanonicalInvoice) { inv.Buyer.Name = "" },
			wantField: "buyer.name",
		},
		{
			name:      "no lines",
			mutate:    func(inv *model.CanonicalInvoice) { inv.Lines = nil },
			wantField: "lines",
		},
		{
			name:      "zero quantity",
			mutate:    func(inv *model.CanonicalInvoice) { inv.Lines[0].Quantity = decimal.Zero },
			wantField: "lines[1].quantity",
		},
		{
			name:      "negative unit price",
			mutate:    func(inv *model.CanonicalInvoice) { inv.Lines[0].UnitPrice = decimal.NewFromInt(-1) },
			wantField: "lines[1].unit_price",
		},
		{
			name:      "negative tax rate",
			mutate:    func(inv *model.CanonicalInvoice) { inv.TaxBreakdown[0].TaxRate = decimal.NewFromInt(-19) },
			wantField: "tax_breakdown.tax_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := validInvoice()
			tt.mutate(inv)
			err := inv.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *model.ConstraintError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}

func TestParseTaxCategory(t *testing.T) {
	for _, code := range []string{"S", "Z", "E", "AE", "O"} {
		cat, ok := model.ParseTaxCategory(code)
		assert.True(t, ok, code)
		assert.Equal(t, model.TaxCategory(code), cat)
	}

	_, ok := model.ParseTaxCategory("X")
	assert.False(t, ok)
	_, ok = model.ParseTaxCategory("")
	assert.False(t, ok)
}

func TestRateMayBeAbsent(t *testing.T) {
	assert.True(t, model.TaxCategoryZeroRate.RateMayBeAbsent())
	assert.True(t, model.TaxCategoryExempt.RateMayBeAbsent())
	assert.True(t, model.TaxCategoryReverseCharge.RateMayBeAbsent())
	assert.False(t, model.TaxCategoryStandard.RateMayBeAbsent())
	assert.False(t, model.TaxCategoryNotSubject.RateMayBeAbsent())
}

func TestSupportedCodes(t *testing.T) {
	assert.True(t, model.IsSupportedCountry("DE"))
	assert.True(t, model.IsSupportedCountry("AT"))
	assert.False(t, model.IsSupportedCountry("US"))
	assert.False(t, model.IsSupportedCountry("de"))

	assert.True(t, model.IsSupportedCurrency("EUR"))
	assert.False(t, model.IsSupportedCurrency("JPY"))
}

func TestTotalTaxAmount(t *testing.T) {
	inv := validInvoice()
	inv.TaxBreakdown = append(inv.TaxBreakdown, model.TaxBreakdown{
		TaxCategory: model.TaxCategoryStandard, TaxRate: decimal.NewFromInt(7),
		TaxableAmount: decimal.RequireFromString("50.00"), TaxAmount: decimal.RequireFromString("3.50"),
	})
	assert.True(t, inv.TotalTaxAmount().Equal(decimal.RequireFromString("27.25")))
}

func TestIsReverseCharge(t *testing.T) {
	inv := validInvoice()
	assert.False(t, inv.IsReverseCharge())

	inv.TaxBreakdown[0].TaxCategory = model.TaxCategoryReverseCharge
	assert.True(t, inv.IsReverseCharge())
}

func TestFormatClassification(t *testing.T) {
	assert.True(t, model.FormatXRechnungCII.IsCII())
	assert.True(t, model.FormatZUGFeRDCII.IsCII())
	assert.True(t, model.FormatFacturXCII.IsCII())
	assert.False(t, model.FormatXRechnungUBL.IsCII())

	assert.True(t, model.FormatXRechnungUBL.IsStructured())
	assert.True(t, model.FormatZUGFeRDCII.IsStructured())
	assert.False(t, model.FormatOtherPDF.IsStructured())
	assert.False(t, model.FormatPlainXML.IsStructured())
	assert.False(t, model.FormatUnknown.IsStructured())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, model.StatusReceived.IsTerminal())
	assert.False(t, model.StatusProcessing.IsTerminal())
	assert.True(t, model.StatusValid.IsTerminal())
	assert.True(t, model.StatusInvalid.IsTerminal())
	assert.True(t, model.StatusManualReview.IsTerminal())
	assert.True(t, model.StatusError.IsTerminal())
}
