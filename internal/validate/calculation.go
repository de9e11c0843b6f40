package validate

import (
	"fmt"

	sdecimal "github.com/shopspring/decimal"

	"github.com/openfaktur/einvoice/internal/decimal"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
)

// Finding codes produced by calculation validation.
const (
	CodeCalcLineTotalMismatch    = "CALC_LINE_TOTAL_MISMATCH"
	CodeCalcTaxExclusiveMismatch = "CALC_TAX_EXCLUSIVE_MISMATCH"
	CodeCalcTaxInclusiveMismatch = "CALC_TAX_INCLUSIVE_MISMATCH"
	CodeCalcPayableMismatch      = "CALC_PAYABLE_AMOUNT_MISMATCH"
)

// CalculationValidator verifies the arithmetic consistency of a canonical
// invoice: line totals, document totals and per-rate tax amounts. All
// comparisons allow the rounding tolerance, so cent-rounding differences
// between issuer systems never produce findings.
type CalculationValidator struct {
	tolerance sdecimal.Decimal
}

// NewCalculationValidator creates a validator with the default 2-cent
// tolerance.
func NewCalculationValidator() *CalculationValidator {
	return &CalculationValidator{tolerance: decimal.DefaultTolerance}
}

// Validate checks inv and returns one finding per mismatch. A payable-amount
// deviation is a warning only, since prepaid amounts legitimately reduce it.
func (v *CalculationValidator) Validate(inv *model.CanonicalInvoice) []report.Finding {
	var findings []report.Finding

	lineSum := decimal.Zero
	for _, line := range inv.Lines {
		lineSum = lineSum.Add(line.LineNetAmount)

		expected := line.Quantity.Mul(line.UnitPrice).Round(2)
		if !v.within(expected, line.LineNetAmount) {
			findings = append(findings, report.Finding{
				Category:      report.CategoryCalculation,
				Severity:      report.SeverityError,
				Code:          CodeCalcLineTotalMismatch,
				Message:       fmt.Sprintf("line %s: quantity x unit price does not match line net amount", line.LineID),
				Location:      "lines[" + line.LineID + "]",
				ExpectedValue: expected.StringFixed(2),
				ActualValue:   line.LineNetAmount.StringFixed(2),
			})
		}
	}

	// Tax exclusive total derives from the line sum and document-level
	// allowances and charges.
	expectedExclusive := lineSum.Sub(inv.AllowanceTotalAmount).Add(inv.ChargeTotalAmount)
	if !v.within(expectedExclusive, inv.TaxExclusiveAmount) {
		findings = append(findings, report.Finding{
			Category:      report.CategoryCalculation,
			Severity:      report.SeverityError,
			Code:          CodeCalcTaxExclusiveMismatch,
			Message:       "sum of line amounts minus allowances plus charges does not match the tax exclusive total",
			Location:      "tax_exclusive_amount",
			ExpectedValue: expectedExclusive.StringFixed(2),
			ActualValue:   inv.TaxExclusiveAmount.StringFixed(2),
		})
	}

	findings = append(findings, v.checkBreakdown(inv)...)

	expectedInclusive := inv.TaxExclusiveAmount.Add(inv.TotalTaxAmount())
	if !v.within(expectedInclusive, inv.TaxInclusiveAmount) {
		findings = append(findings, report.Finding{
			Category:      report.CategoryCalculation,
			Severity:      report.SeverityError,
			Code:          CodeCalcTaxInclusiveMismatch,
			Message:       "tax exclusive total plus total tax does not match the tax inclusive total",
			Location:      "tax_inclusive_amount",
			ExpectedValue: expectedInclusive.StringFixed(2),
			ActualValue:   inv.TaxInclusiveAmount.StringFixed(2),
		})
	}

	if !v.within(inv.TaxInclusiveAmount, inv.PayableAmount) {
		findings = append(findings, report.Finding{
			Category:      report.CategoryCalculation,
			Severity:      report.SeverityWarning,
			Code:          CodeCalcPayableMismatch,
			Message:       "payable amount deviates from the tax inclusive total (prepaid amount assumed)",
			Location:      "payable_amount",
			ExpectedValue: inv.TaxInclusiveAmount.StringFixed(2),
			ActualValue:   inv.PayableAmount.StringFixed(2),
		})
	}

	return findings
}

// checkBreakdown verifies the rate arithmetic of each VAT subtotal row.
func (v *CalculationValidator) checkBreakdown(inv *model.CanonicalInvoice) []report.Finding {
	var findings []report.Finding
	for _, row := range inv.TaxBreakdown {
		// Zero-rate and reverse-charge rows carry no derivable tax amount.
		if !row.TaxRate.IsPositive() || row.TaxCategory == model.TaxCategoryReverseCharge {
			continue
		}
		expectedTax := decimal.TaxFromRate(row.TaxableAmount, row.TaxRate)
		if !v.within(expectedTax, row.TaxAmount) {
			rate := row.TaxRate.StringFixed(0)
			findings = append(findings, report.Finding{
				Category:      report.CategoryCalculation,
				Severity:      report.SeverityError,
				Code:          fmt.Sprintf("CALC_TAX_BREAKDOWN_MISMATCH_%sPCT", rate),
				Message:       fmt.Sprintf("tax amount for the %s%% rate does not match taxable amount x rate", rate),
				Location:      "tax_breakdown",
				ExpectedValue: expectedTax.StringFixed(2),
				ActualValue:   row.TaxAmount.StringFixed(2),
			})
		}
	}
	return findings
}

func (v *CalculationValidator) within(a, b sdecimal.Decimal) bool {
	return decimal.WithinTolerance(a, b, v.tolerance)
}
