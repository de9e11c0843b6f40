package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxCategory is the EN 16931 VAT category code.
type TaxCategory string

const (
	TaxCategoryStandard      TaxCategory = "S"
	TaxCategoryZeroRate      TaxCategory = "Z"
	TaxCategoryExempt        TaxCategory = "E"
	TaxCategoryReverseCharge TaxCategory = "AE"
	TaxCategoryNotSubject    TaxCategory = "O"
)

// ParseTaxCategory validates a raw category code against the closed set.
func ParseTaxCategory(code string) (TaxCategory, bool) {
	switch TaxCategory(code) {
	case TaxCategoryStandard, TaxCategoryZeroRate, TaxCategoryExempt,
		TaxCategoryReverseCharge, TaxCategoryNotSubject:
		return TaxCategory(code), true
	}
	return "", false
}

// RateMayBeAbsent reports whether a missing tax rate is legitimate for
// this category and defaults to zero.
func (c TaxCategory) RateMayBeAbsent() bool {
	return c == TaxCategoryZeroRate || c == TaxCategoryExempt || c == TaxCategoryReverseCharge
}

// supportedCountries are the ISO 3166-1 alpha-2 codes accepted by the
// canonical model. Unrecognized codes are rejected during mapping.
var supportedCountries = map[string]struct{}{
	"DE": {}, "AT": {}, "CH": {}, "FR": {}, "NL": {}, "BE": {},
}

// supportedCurrencies are the ISO 4217 codes accepted by the canonical model.
var supportedCurrencies = map[string]struct{}{
	"EUR": {}, "USD": {}, "CHF": {}, "GBP": {},
}

// IsSupportedCountry reports whether code is a known country code.
func IsSupportedCountry(code string) bool {
	_, ok := supportedCountries[code]
	return ok
}

// IsSupportedCurrency reports whether code is a known currency code.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// Address is the postal address of a party.
type Address struct {
	StreetName           string `json:"street_name,omitempty"`
	AdditionalStreetName string `json:"additional_street_name,omitempty"`
	CityName             string `json:"city_name"`
	PostalZone           string `json:"postal_zone"`
	CountryCode          string `json:"country_code"`
}

// Party is an invoice party (seller or buyer).
type Party struct {
	Name    string  `json:"name"`
	VATID   string  `json:"vat_id,omitempty"`
	TaxID   string  `json:"tax_id,omitempty"`
	Address Address `json:"address"`
}

// BankDetails is a payment account declared on the invoice.
type BankDetails struct {
	IBAN        string `json:"iban"`
	BIC         string `json:"bic,omitempty"`
	AccountName string `json:"account_name,omitempty"`
}

// PaymentTerms carries optional payment conditions.
type PaymentTerms struct {
	Note    string     `json:"note,omitempty"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// DocumentReference points at a related document, typically a purchase order.
type DocumentReference struct {
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type,omitempty"`
}

// TaxBreakdown is one VAT subtotal row.
type TaxBreakdown struct {
	TaxCategory   TaxCategory     `json:"tax_category"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
}

// InvoiceLine is one canonical invoice position.
type InvoiceLine struct {
	LineID          string          `json:"line_id"`
	ItemName        string          `json:"item_name"`
	ItemDescription string          `json:"item_description,omitempty"`
	// ItemIdentifier is the GTIN/EAN, seller-assigned or buyer-assigned
	// article number used for purchase-order matching.
	ItemIdentifier string          `json:"item_identifier,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCode       string          `json:"unit_code"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineNetAmount  decimal.Decimal `json:"line_net_amount"`
	TaxCategory    TaxCategory     `json:"tax_category"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
}

// CanonicalInvoice is the dialect-independent invoice representation every
// supported input format (UBL, CII, hybrid PDF) is normalized into.
// Monetary fields are exact decimals, never floats.
type CanonicalInvoice struct {
	InvoiceNumber   string    `json:"invoice_number"`
	IssueDate       time.Time `json:"issue_date"`
	InvoiceTypeCode string    `json:"invoice_type_code"`
	CurrencyCode    string    `json:"currency_code"`

	Seller Party `json:"seller"`
	Buyer  Party `json:"buyer"`

	Lines []InvoiceLine `json:"lines"`

	LineExtensionAmount  decimal.Decimal `json:"line_extension_amount"`
	AllowanceTotalAmount decimal.Decimal `json:"allowance_total_amount"`
	ChargeTotalAmount    decimal.Decimal `json:"charge_total_amount"`
	TaxExclusiveAmount   decimal.Decimal `json:"tax_exclusive_amount"`
	TaxInclusiveAmount   decimal.Decimal `json:"tax_inclusive_amount"`
	PayableAmount        decimal.Decimal `json:"payable_amount"`

	TaxBreakdown []TaxBreakdown `json:"tax_breakdown"`

	PaymentTerms   *PaymentTerms `json:"payment_terms,omitempty"`
	PaymentDetails []BankDetails `json:"payment_details,omitempty"`

	PurchaseOrderReference *DocumentReference `json:"purchase_order_reference,omitempty"`
	ContractReference      *DocumentReference `json:"contract_reference,omitempty"`
}

// TotalTaxAmount sums all breakdown rows.
func (inv *CanonicalInvoice) TotalTaxAmount() decimal.Decimal {
	total := decimal.Zero
	for _, b := range inv.TaxBreakdown {
		total = total.Add(b.TaxAmount)
	}
	return total
}

// IsReverseCharge reports whether any breakdown row uses reverse charge.
func (inv *CanonicalInvoice) IsReverseCharge() bool {
	for _, b := range inv.TaxBreakdown {
		if b.TaxCategory == TaxCategoryReverseCharge {
			return true
		}
	}
	return false
}

// Validate enforces the canonical model's own constraints. Mappers wrap a
// failure here as a MappingError so a constraint break is terminal for the
// submission.
func (inv *CanonicalInvoice) Validate() error {
	if inv.InvoiceNumber == "" {
		return NewConstraintError("invoice_number", "must not be empty")
	}
	if inv.IssueDate.IsZero() {
		return NewConstraintError("issue_date", "must be set")
	}
	if !IsSupportedCurrency(inv.CurrencyCode) {
		return NewConstraintError("currency_code", "unsupported currency code "+inv.CurrencyCode)
	}
	if inv.Seller.Name == "" {
		return NewConstraintError("seller.name", "must not be empty")
	}
	if inv.Buyer.Name == "" {
		return NewConstraintError("buyer.name", "must not be empty")
	}
	if len(inv.Lines) == 0 {
		return NewConstraintError("lines", "at least one invoice line required")
	}
	for _, line := range inv.Lines {
		if !line.Quantity.IsPositive() {
			return NewConstraintError("lines["+line.LineID+"].quantity", "must be greater than zero")
		}
		if line.UnitPrice.IsNegative() {
			return NewConstraintError("lines["+line.LineID+"].unit_price", "must not be negative")
		}
	}
	for _, b := range inv.TaxBreakdown {
		if b.TaxRate.IsNegative() {
			return NewConstraintError("tax_breakdown.tax_rate", "must not be negative")
		}
	}
	return nil
}
