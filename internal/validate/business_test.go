package validate_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfaktur/einvoice/internal/erp"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
	"github.com/openfaktur/einvoice/internal/validate"
)

// fakeERP is an in-memory ERP adapter for business validation tests.
type fakeERP struct {
	vendor    *erp.Vendor
	duplicate bool
	bank      []erp.BankDetails
	po        *erp.PurchaseOrder
	err       error
}

func (f *fakeERP) FindVendorByVATID(context.Context, string) (*erp.Vendor, error) {
	return f.vendor, f.err
}

func (f *fakeERP) IsDuplicateInvoice(context.Context, string, string) (bool, error) {
	return f.duplicate, f.err
}

func (f *fakeERP) GetVendorBankDetails(context.Context, string) ([]erp.BankDetails, error) {
	return f.bank, f.err
}

func (f *fakeERP) GetPurchaseOrder(context.Context, string, string) (*erp.PurchaseOrder, error) {
	return f.po, f.err
}

func activeVendor() *erp.Vendor {
	return &erp.Vendor{VendorID: "V-100", VATID: "DE123456789", Name: "Muster GmbH", IsActive: true}
}

func matchingPO() *erp.PurchaseOrder {
	return &erp.PurchaseOrder{
		PONumber:           "PO-4711",
		VendorID:           "V-100",
		TotalNetAmount:     d("200.00"),
		IsOpenForInvoicing: true,
		Lines: map[string]erp.PurchaseOrderLine{
			"SW-40":  {ItemIdentifier: "SW-40", QuantityOrdered: d("20"), QuantityInvoiced: d("5")},
			"MP-100": {ItemIdentifier: "MP-100", QuantityOrdered: d("10"), QuantityInvoiced: d("0")},
		},
	}
}

// businessInvoice extends the consistent invoice with ERP-relevant fields.
func businessInvoice() *model.CanonicalInvoice {
	inv := consistentInvoice()
	inv.Lines[0].ItemIdentifier = "SW-40"
	inv.Lines[1].ItemIdentifier = "MP-100"
	inv.PaymentDetails = []model.BankDetails{{IBAN: "DE89370400440532013000"}}
	inv.PurchaseOrderReference = &model.DocumentReference{DocumentID: "PO-4711", DocumentType: "ORDER"}
	return inv
}

func registeredBank() []erp.BankDetails {
	return []erp.BankDetails{{IBAN: "DE89 3704 0044 0532 0130 00"}}
}

func TestBusinessHappyPath(t *testing.T) {
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: matchingPO()}
	v := validate.NewBusinessValidator(adapter, zerolog.Nop())

	findings, err := v.Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestBusinessVendorIDMissing(t *testing.T) {
	inv := businessInvoice()
	inv.Seller.VATID = ""

	v := validate.NewBusinessValidator(&fakeERP{}, zerolog.Nop())
	findings, err := v.Validate(context.Background(), inv)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, validate.CodeVendorIDMissing, findings[0].Code)
	assert.Equal(t, report.SeverityError, findings[0].Severity)
}

func TestBusinessVendorNotFound(t *testing.T) {
	v := validate.NewBusinessValidator(&fakeERP{}, zerolog.Nop())
	findings, err := v.Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, validate.CodeVendorNotFound, findings[0].Code)
}

func TestBusinessVendorInactiveIsWarning(t *testing.T) {
	vendor := activeVendor()
	vendor.IsActive = false
	adapter := &fakeERP{vendor: vendor, bank: registeredBank(), po: matchingPO()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	f := findCode(findings, validate.CodeVendorInactive)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityWarning, f.Severity)
}

func TestBusinessDuplicateInvoiceAborts(t *testing.T) {
	adapter := &fakeERP{vendor: activeVendor(), duplicate: true, bank: registeredBank(), po: matchingPO()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	f := findCode(findings, validate.CodeDuplicateInvoice)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityFatal, f.Severity)
	// Duplicate aborts: no bank or PO findings follow.
	assert.Nil(t, findCode(findings, validate.CodeBankDetailsMismatch))
	assert.Nil(t, findCode(findings, validate.CodePONotFound))
}

func TestBusinessBankDetailsMismatch(t *testing.T) {
	adapter := &fakeERP{vendor: activeVendor(), bank: []erp.BankDetails{{IBAN: "DE00000000000000000000"}}, po: matchingPO()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	f := findCode(findings, validate.CodeBankDetailsMismatch)
	require.NotNil(t, f)
	assert.Equal(t, "DE89370400440532013000", f.ActualValue)
}

func TestBusinessBankIBANNormalization(t *testing.T) {
	inv := businessInvoice()
	inv.PaymentDetails = []model.BankDetails{{IBAN: "de89 3704 0044 0532 0130 00"}}
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: matchingPO()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), inv)
	require.NoError(t, err)
	assert.Nil(t, findCode(findings, validate.CodeBankDetailsMismatch))
}

func TestBusinessPONotFound(t *testing.T) {
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	require.NotNil(t, findCode(findings, validate.CodePONotFound))
	// PO line checks are skipped once the order is unresolved.
	assert.Nil(t, findCode(findings, validate.CodePONoLinesMatched))
}

func TestBusinessPOClosed(t *testing.T) {
	po := matchingPO()
	po.IsOpenForInvoicing = false
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: po}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	require.NotNil(t, findCode(findings, validate.CodePOClosed))
}

func TestBusinessPOAmountMismatchIsWarning(t *testing.T) {
	po := matchingPO()
	po.TotalNetAmount = d("500.00")
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: po}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)
	f := findCode(findings, validate.CodePOAmountMismatch)
	require.NotNil(t, f)
	assert.Equal(t, report.SeverityWarning, f.Severity)
}

func TestBusinessPOLineChecks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(inv *model.CanonicalInvoice, po *erp.PurchaseOrder)
		wantCode string
		wantSev  report.Severity
	}{
		{
			name: "missing identifier",
			mutate: func(inv *model.CanonicalInvoice, po *erp.PurchaseOrder) {
				inv.Lines[0].ItemIdentifier = ""
			},
			wantCode: validate.CodePOLineMissingID,
			wantSev:  report.SeverityWarning,
		},
		{
			name: "item not on order",
			mutate: func(inv *model.CanonicalInvoice, po *erp.PurchaseOrder) {
				inv.Lines[0].ItemIdentifier = "XX-99"
			},
			wantCode: validate.CodePOLineItemNotFound,
			wantSev:  report.SeverityError,
		},
		{
			name: "quantity exceeds open order",
			mutate: func(inv *model.CanonicalInvoice, po *erp.PurchaseOrder) {
				line := po.Lines["SW-40"]
				line.QuantityInvoiced = d("15")
				po.Lines["SW-40"] = line
			},
			wantCode: validate.CodePOLineQuantityExceed,
			wantSev:  report.SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := businessInvoice()
			po := matchingPO()
			tt.mutate(inv, po)
			adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: po}

			findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), inv)
			require.NoError(t, err)
			f := findCode(findings, tt.wantCode)
			require.NotNil(t, f)
			assert.Equal(t, tt.wantSev, f.Severity)
		})
	}
}

func TestBusinessPOAllLinesExceedQuantity(t *testing.T) {
	po := matchingPO()
	sw := po.Lines["SW-40"]
	sw.QuantityInvoiced = d("20")
	po.Lines["SW-40"] = sw
	mp := po.Lines["MP-100"]
	mp.QuantityInvoiced = d("10")
	po.Lines["MP-100"] = mp
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: po}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.NoError(t, err)

	exceeded := 0
	for _, f := range findings {
		if f.Code == validate.CodePOLineQuantityExceed {
			exceeded++
		}
	}
	assert.Equal(t, 2, exceeded)
	// A line over its open quantity does not count as matched, so the
	// order-level summary fires too.
	require.NotNil(t, findCode(findings, validate.CodePONoLinesMatched))
}

func TestBusinessPONoLinesMatched(t *testing.T) {
	inv := businessInvoice()
	inv.Lines[0].ItemIdentifier = "AA-1"
	inv.Lines[1].ItemIdentifier = "BB-2"
	adapter := &fakeERP{vendor: activeVendor(), bank: registeredBank(), po: matchingPO()}

	findings, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, findCode(findings, validate.CodePONoLinesMatched))
}

func TestBusinessInfraErrorPropagates(t *testing.T) {
	adapter := &fakeERP{err: model.NewInfraError("erp.vendor_lookup", "connection refused", nil)}

	_, err := validate.NewBusinessValidator(adapter, zerolog.Nop()).Validate(context.Background(), businessInvoice())
	require.Error(t, err)
	assert.True(t, model.IsInfraError(err))
}
