package erp

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/openfaktur/einvoice/internal/model"
)

// SQLAdapter reads ERP master data over a read-only database connection.
// All queries are raw SQL against the ERP views; the adapter never writes.
type SQLAdapter struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewSQLAdapter creates an adapter over db.
func NewSQLAdapter(db *gorm.DB, log zerolog.Logger) *SQLAdapter {
	return &SQLAdapter{db: db, log: log.With().Str("component", "erp").Logger()}
}

type vendorRow struct {
	VendorID string
	VATID    string
	Name     string
	IsActive bool
}

// FindVendorByVATID resolves a vendor by VAT registration, matching
// case-insensitively on the normalized VAT ID.
func (a *SQLAdapter) FindVendorByVATID(ctx context.Context, vatID string) (*Vendor, error) {
	var rows []vendorRow
	err := a.db.WithContext(ctx).Raw(`
		SELECT vendor_id, vat_id, name, is_active
		FROM erp_vendors
		WHERE UPPER(vat_id) = ?`,
		strings.ToUpper(strings.TrimSpace(vatID)),
	).Scan(&rows).Error
	if err != nil {
		return nil, model.NewInfraError("erp.vendor_lookup", "vendor query failed", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &Vendor{VendorID: r.VendorID, VATID: r.VATID, Name: r.Name, IsActive: r.IsActive}, nil
}

// IsDuplicateInvoice reports whether the vendor already submitted an invoice
// with this number.
func (a *SQLAdapter) IsDuplicateInvoice(ctx context.Context, vendorID, invoiceNumber string) (bool, error) {
	var count int64
	err := a.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM erp_invoices
		WHERE vendor_id = ? AND invoice_number = ?`,
		vendorID, invoiceNumber,
	).Scan(&count).Error
	if err != nil {
		return false, model.NewInfraError("erp.duplicate_check", "invoice history query failed", err)
	}
	return count > 0, nil
}

// GetVendorBankDetails lists the bank accounts registered for the vendor.
// IBANs are normalized to uppercase with spaces stripped.
func (a *SQLAdapter) GetVendorBankDetails(ctx context.Context, vendorID string) ([]BankDetails, error) {
	var rows []struct {
		IBAN string
		BIC  string
	}
	err := a.db.WithContext(ctx).Raw(`
		SELECT iban, bic
		FROM erp_vendor_bank_accounts
		WHERE vendor_id = ?`,
		vendorID,
	).Scan(&rows).Error
	if err != nil {
		return nil, model.NewInfraError("erp.bank_lookup", "bank account query failed", err)
	}
	details := make([]BankDetails, 0, len(rows))
	for _, r := range rows {
		details = append(details, BankDetails{IBAN: NormalizeIBAN(r.IBAN), BIC: r.BIC})
	}
	return details, nil
}

type poHeaderRow struct {
	PONumber       string
	VendorID       string
	TotalNetAmount decimal.Decimal
	Status         string
}

type poLineRow struct {
	ItemIdentifier   string
	Description      string
	QuantityOrdered  decimal.Decimal
	QuantityInvoiced decimal.Decimal
	UnitPrice        decimal.Decimal
}

// GetPurchaseOrder resolves a purchase order scoped to the vendor. Lines
// are keyed by item identifier; when two lines share an identifier the
// open quantities are merged so invoiced quantity checks stay conservative.
func (a *SQLAdapter) GetPurchaseOrder(ctx context.Context, poNumber, vendorID string) (*PurchaseOrder, error) {
	var headers []poHeaderRow
	err := a.db.WithContext(ctx).Raw(`
		SELECT po_number, vendor_id, total_net_amount, status
		FROM erp_purchase_orders
		WHERE po_number = ? AND vendor_id = ?`,
		poNumber, vendorID,
	).Scan(&headers).Error
	if err != nil {
		return nil, model.NewInfraError("erp.po_lookup", "purchase order query failed", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]

	var lineRows []poLineRow
	err = a.db.WithContext(ctx).Raw(`
		SELECT item_identifier, description, quantity_ordered, quantity_invoiced, unit_price
		FROM erp_purchase_order_lines
		WHERE po_number = ?`,
		poNumber,
	).Scan(&lineRows).Error
	if err != nil {
		return nil, model.NewInfraError("erp.po_lines", "purchase order line query failed", err)
	}

	lines := make(map[string]PurchaseOrderLine, len(lineRows))
	for _, r := range lineRows {
		line := PurchaseOrderLine{
			ItemIdentifier:   r.ItemIdentifier,
			Description:      r.Description,
			QuantityOrdered:  r.QuantityOrdered,
			QuantityInvoiced: r.QuantityInvoiced,
			UnitPrice:        r.UnitPrice,
		}
		if existing, ok := lines[r.ItemIdentifier]; ok {
			line.QuantityOrdered = existing.QuantityOrdered.Add(r.QuantityOrdered)
			line.QuantityInvoiced = existing.QuantityInvoiced.Add(r.QuantityInvoiced)
		}
		lines[r.ItemIdentifier] = line
	}

	return &PurchaseOrder{
		PONumber:           header.PONumber,
		VendorID:           header.VendorID,
		TotalNetAmount:     header.TotalNetAmount,
		IsOpenForInvoicing: strings.EqualFold(header.Status, "OPEN"),
		Lines:              lines,
	}, nil
}

// NormalizeIBAN strips whitespace and uppercases an IBAN for comparison.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}
