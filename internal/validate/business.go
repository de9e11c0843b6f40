package validate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/decimal"
	"github.com/openfaktur/einvoice/internal/erp"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
)

// Finding codes produced by business validation.
const (
	CodeVendorIDMissing      = "ERP_VENDOR_ID_MISSING"
	CodeVendorNotFound       = "ERP_VENDOR_NOT_FOUND"
	CodeVendorInactive       = "ERP_VENDOR_INACTIVE"
	CodeDuplicateInvoice     = "ERP_DUPLICATE_INVOICE"
	CodeBankDetailsMismatch  = "ERP_BANK_DETAILS_MISMATCH"
	CodePONotFound           = "ERP_PO_NOT_FOUND_OR_INVALID"
	CodePOClosed             = "ERP_PO_CLOSED"
	CodePOAmountMismatch     = "ERP_PO_AMOUNT_MISMATCH"
	CodePOLineMissingID      = "ERP_PO_LINE_MISSING_HAN"
	CodePOLineItemNotFound   = "ERP_PO_LINE_ITEM_NOT_FOUND"
	CodePOLineQuantityExceed = "ERP_PO_LINE_QUANTITY_EXCEEDED"
	CodePONoLinesMatched     = "ERP_PO_NO_LINES_MATCHED"
)

// BusinessValidator cross-checks a canonical invoice against ERP master
// data: vendor identity, invoice-number uniqueness, registered bank accounts
// and purchase-order coverage. Negative lookups are findings; only ERP
// connectivity failures return an error (always an InfraError).
type BusinessValidator struct {
	erp erp.Adapter
	log zerolog.Logger
}

// NewBusinessValidator creates a validator over an ERP adapter.
func NewBusinessValidator(adapter erp.Adapter, log zerolog.Logger) *BusinessValidator {
	return &BusinessValidator{erp: adapter, log: log.With().Str("component", "business").Logger()}
}

// Validate runs the business checks in order. Checks that depend on an
// earlier identification (vendor, purchase order) are skipped once that
// identification fails, so a single root cause yields a single finding.
func (v *BusinessValidator) Validate(ctx context.Context, inv *model.CanonicalInvoice) ([]report.Finding, error) {
	if inv.Seller.VATID == "" {
		return []report.Finding{{
			Category: report.CategoryBusiness,
			Severity: report.SeverityError,
			Code:     CodeVendorIDMissing,
			Message:  "seller carries no VAT identifier, vendor cannot be resolved",
			Location: "seller.vat_id",
		}}, nil
	}

	vendor, err := v.erp.FindVendorByVATID(ctx, inv.Seller.VATID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return []report.Finding{{
			Category:    report.CategoryBusiness,
			Severity:    report.SeverityError,
			Code:        CodeVendorNotFound,
			Message:     "no vendor registered for VAT identifier " + inv.Seller.VATID,
			Location:    "seller.vat_id",
			ActualValue: inv.Seller.VATID,
		}}, nil
	}

	var findings []report.Finding
	if !vendor.IsActive {
		findings = append(findings, report.Finding{
			Category: report.CategoryBusiness,
			Severity: report.SeverityWarning,
			Code:     CodeVendorInactive,
			Message:  "vendor " + vendor.VendorID + " is marked inactive",
		})
	}

	duplicate, err := v.erp.IsDuplicateInvoice(ctx, vendor.VendorID, inv.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	if duplicate {
		// A duplicate must never proceed, regardless of anything else.
		findings = append(findings, report.Finding{
			Category:    report.CategoryBusiness,
			Severity:    report.SeverityFatal,
			Code:        CodeDuplicateInvoice,
			Message:     fmt.Sprintf("invoice %s from vendor %s was already submitted", inv.InvoiceNumber, vendor.VendorID),
			ActualValue: inv.InvoiceNumber,
		})
		return findings, nil
	}

	bank, err := v.checkBankDetails(ctx, vendor.VendorID, inv)
	if err != nil {
		return nil, err
	}
	findings = append(findings, bank...)

	po, err := v.checkPurchaseOrder(ctx, vendor.VendorID, inv)
	if err != nil {
		return nil, err
	}
	findings = append(findings, po...)

	return findings, nil
}

// checkBankDetails verifies every IBAN declared on the invoice against the
// accounts registered in the ERP. An unregistered payout account is a strong
// fraud indicator.
func (v *BusinessValidator) checkBankDetails(ctx context.Context, vendorID string, inv *model.CanonicalInvoice) ([]report.Finding, error) {
	if len(inv.PaymentDetails) == 0 {
		return nil, nil
	}

	registered, err := v.erp.GetVendorBankDetails(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(registered))
	for _, b := range registered {
		known[erp.NormalizeIBAN(b.IBAN)] = struct{}{}
	}

	var findings []report.Finding
	for _, b := range inv.PaymentDetails {
		iban := erp.NormalizeIBAN(b.IBAN)
		if _, ok := known[iban]; !ok {
			findings = append(findings, report.Finding{
				Category:    report.CategoryBusiness,
				Severity:    report.SeverityError,
				Code:        CodeBankDetailsMismatch,
				Message:     "invoice names a bank account not registered for this vendor",
				Location:    "payment_details",
				ActualValue: b.IBAN,
			})
		}
	}
	return findings, nil
}

func (v *BusinessValidator) checkPurchaseOrder(ctx context.Context, vendorID string, inv *model.CanonicalInvoice) ([]report.Finding, error) {
	if inv.PurchaseOrderReference == nil || inv.PurchaseOrderReference.DocumentID == "" {
		return nil, nil
	}
	poNumber := inv.PurchaseOrderReference.DocumentID

	po, err := v.erp.GetPurchaseOrder(ctx, poNumber, vendorID)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return []report.Finding{{
			Category:    report.CategoryBusiness,
			Severity:    report.SeverityError,
			Code:        CodePONotFound,
			Message:     "referenced purchase order does not exist or belongs to another vendor",
			Location:    "purchase_order_reference",
			ActualValue: poNumber,
		}}, nil
	}
	if !po.IsOpenForInvoicing {
		return []report.Finding{{
			Category:    report.CategoryBusiness,
			Severity:    report.SeverityError,
			Code:        CodePOClosed,
			Message:     "referenced purchase order is closed for invoicing",
			Location:    "purchase_order_reference",
			ActualValue: poNumber,
		}}, nil
	}

	var findings []report.Finding
	if !decimal.Within(inv.TaxExclusiveAmount, po.TotalNetAmount) {
		findings = append(findings, report.Finding{
			Category:      report.CategoryBusiness,
			Severity:      report.SeverityWarning,
			Code:          CodePOAmountMismatch,
			Message:       "invoice net total deviates from the purchase order net total (partial invoice assumed)",
			ExpectedValue: po.TotalNetAmount.StringFixed(2),
			ActualValue:   inv.TaxExclusiveAmount.StringFixed(2),
		})
	}

	matched := 0
	for _, line := range inv.Lines {
		if line.ItemIdentifier == "" {
			findings = append(findings, report.Finding{
				Category: report.CategoryBusiness,
				Severity: report.SeverityWarning,
				Code:     CodePOLineMissingID,
				Message:  fmt.Sprintf("line %s carries no article identifier and cannot be matched against the order", line.LineID),
				Location: "lines[" + line.LineID + "]",
			})
			continue
		}

		poLine, ok := po.Lines[line.ItemIdentifier]
		if !ok {
			findings = append(findings, report.Finding{
				Category:    report.CategoryBusiness,
				Severity:    report.SeverityError,
				Code:        CodePOLineItemNotFound,
				Message:     fmt.Sprintf("line %s: article %s is not on purchase order %s", line.LineID, line.ItemIdentifier, poNumber),
				Location:    "lines[" + line.LineID + "]",
				ActualValue: line.ItemIdentifier,
			})
			continue
		}

		if line.Quantity.GreaterThan(poLine.QuantityOpen()) {
			findings = append(findings, report.Finding{
				Category:      report.CategoryBusiness,
				Severity:      report.SeverityError,
				Code:          CodePOLineQuantityExceed,
				Message:       fmt.Sprintf("line %s: invoiced quantity exceeds the open order quantity for article %s", line.LineID, line.ItemIdentifier),
				Location:      "lines[" + line.LineID + "]",
				ExpectedValue: poLine.QuantityOpen().String(),
				ActualValue:   line.Quantity.String(),
			})
			continue
		}
		matched++
	}

	if matched == 0 {
		findings = append(findings, report.Finding{
			Category: report.CategoryBusiness,
			Severity: report.SeverityError,
			Code:     CodePONoLinesMatched,
			Message:  "no invoice line could be matched to purchase order " + poNumber,
		})
	}

	return findings, nil
}
