// Package erp provides read-only access to the ERP system of record:
// vendors, registered bank accounts, invoice history and purchase orders.
package erp

import (
	"context"

	"github.com/shopspring/decimal"
)

// Vendor is an ERP vendor master record.
type Vendor struct {
	VendorID string
	VATID    string
	Name     string
	IsActive bool
}

// BankDetails is a vendor bank account registered in the ERP.
type BankDetails struct {
	IBAN string
	BIC  string
}

// PurchaseOrderLine is one position of a purchase order, keyed by the
// article identifier.
type PurchaseOrderLine struct {
	ItemIdentifier   string
	Description      string
	QuantityOrdered  decimal.Decimal
	QuantityInvoiced decimal.Decimal
	UnitPrice        decimal.Decimal
}

// QuantityOpen is the quantity still available for invoicing.
func (l PurchaseOrderLine) QuantityOpen() decimal.Decimal {
	return l.QuantityOrdered.Sub(l.QuantityInvoiced)
}

// PurchaseOrder is an ERP purchase order with its open lines.
type PurchaseOrder struct {
	PONumber           string
	VendorID           string
	TotalNetAmount     decimal.Decimal
	IsOpenForInvoicing bool
	Lines              map[string]PurchaseOrderLine
}

// Adapter is the read-only ERP lookup surface used by business validation.
// Implementations must wrap connectivity failures in model.InfraError so
// the caller can distinguish them from negative lookups.
type Adapter interface {
	// FindVendorByVATID resolves a vendor by VAT registration. A missing
	// vendor returns (nil, nil), never an error.
	FindVendorByVATID(ctx context.Context, vatID string) (*Vendor, error)

	// IsDuplicateInvoice reports whether the vendor already submitted an
	// invoice with this number.
	IsDuplicateInvoice(ctx context.Context, vendorID, invoiceNumber string) (bool, error)

	// GetVendorBankDetails lists the bank accounts registered for the
	// vendor.
	GetVendorBankDetails(ctx context.Context, vendorID string) ([]BankDetails, error)

	// GetPurchaseOrder resolves a purchase order scoped to the vendor. A
	// missing or foreign order returns (nil, nil).
	GetPurchaseOrder(ctx context.Context, poNumber, vendorID string) (*PurchaseOrder, error)
}
