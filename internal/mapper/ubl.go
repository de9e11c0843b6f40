package mapper

import (
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/openfaktur/einvoice/internal/model"
)

// UBLMapper maps UBL 2.1 invoices and credit notes (XRechnung UBL, Peppol
// BIS) into the canonical model.
type UBLMapper struct {
	q Query
}

// NewUBLMapper creates a new UBL dialect mapper.
func NewUBLMapper() *UBLMapper {
	return &UBLMapper{q: NewQuery(model.FormatXRechnungUBL)}
}

// Format returns the dialect this mapper handles.
func (m *UBLMapper) Format() model.Format {
	return model.FormatXRechnungUBL
}

// MapToCanonical maps a parsed UBL root element into the canonical model.
func (m *UBLMapper) MapToCanonical(root *etree.Element) (*model.CanonicalInvoice, error) {
	rootTag := root.Tag
	if rootTag != "Invoice" && rootTag != "CreditNote" {
		return nil, model.NewMappingError(m.Format(), rootTag, "unexpected UBL root element")
	}
	isInvoice := rootTag == "Invoice"

	invoiceNumber, err := m.q.RequiredText(root, "ID")
	if err != nil {
		return nil, err
	}

	issueDateStr, err := m.q.RequiredText(root, "IssueDate")
	if err != nil {
		return nil, err
	}
	issueDate, err := time.Parse("2006-01-02", issueDateStr)
	if err != nil {
		return nil, model.NewMappingError(m.Format(), "IssueDate", "invalid date format (expected YYYY-MM-DD): "+issueDateStr)
	}

	typeCodeTag, defaultType := "InvoiceTypeCode", "380"
	if !isInvoice {
		typeCodeTag, defaultType = "CreditNoteTypeCode", "381"
	}
	typeCode := m.q.Text(root, typeCodeTag, defaultType)

	currency, err := m.q.RequiredText(root, "DocumentCurrencyCode")
	if err != nil {
		return nil, err
	}
	if !model.IsSupportedCurrency(currency) {
		return nil, model.NewMappingError(m.Format(), "DocumentCurrencyCode", "invalid or unsupported currency code: "+currency)
	}

	seller, err := m.mapParty(root, "AccountingSupplierParty")
	if err != nil {
		return nil, err
	}
	buyer, err := m.mapParty(root, "AccountingCustomerParty")
	if err != nil {
		return nil, err
	}

	totalTag := "LegalMonetaryTotal"
	if !isInvoice {
		totalTag = "RequestedMonetaryTotal"
	}
	monetaryTotal := m.q.First(root, totalTag)
	if monetaryTotal == nil {
		return nil, model.NewMappingError(m.Format(), totalTag, "monetary total element missing")
	}

	lineExtension, err := m.q.RequiredDecimal(monetaryTotal, "LineExtensionAmount")
	if err != nil {
		return nil, err
	}
	taxExclusive, err := m.q.RequiredDecimal(monetaryTotal, "TaxExclusiveAmount")
	if err != nil {
		return nil, err
	}
	taxInclusive, err := m.q.RequiredDecimal(monetaryTotal, "TaxInclusiveAmount")
	if err != nil {
		return nil, err
	}
	payable, err := m.q.RequiredDecimal(monetaryTotal, "PayableAmount")
	if err != nil {
		return nil, err
	}
	allowanceTotal, err := m.q.DecimalDefault(monetaryTotal, "AllowanceTotalAmount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	chargeTotal, err := m.q.DecimalDefault(monetaryTotal, "ChargeTotalAmount", decimal.Zero)
	if err != nil {
		return nil, err
	}

	breakdown, err := m.mapTaxBreakdown(root, taxInclusive, taxExclusive)
	if err != nil {
		return nil, err
	}

	lineTag := "InvoiceLine"
	if !isInvoice {
		lineTag = "CreditNoteLine"
	}
	lines, err := m.mapLines(root, lineTag, isInvoice)
	if err != nil {
		return nil, err
	}

	var poRef *model.DocumentReference
	if poID := m.q.Text(root, "OrderReference/ID", ""); poID != "" {
		poRef = &model.DocumentReference{DocumentID: poID, DocumentType: "ORDER"}
	}

	inv := &model.CanonicalInvoice{
		InvoiceNumber:          invoiceNumber,
		IssueDate:              issueDate,
		InvoiceTypeCode:        typeCode,
		CurrencyCode:           currency,
		Seller:                 seller,
		Buyer:                  buyer,
		Lines:                  lines,
		LineExtensionAmount:    lineExtension,
		AllowanceTotalAmount:   allowanceTotal,
		ChargeTotalAmount:      chargeTotal,
		TaxExclusiveAmount:     taxExclusive,
		TaxInclusiveAmount:     taxInclusive,
		PayableAmount:          payable,
		TaxBreakdown:           breakdown,
		PaymentDetails:         m.mapPaymentDetails(root),
		PurchaseOrderReference: poRef,
	}

	if err := inv.Validate(); err != nil {
		return nil, &model.MappingError{Format: m.Format(), Message: "canonical model constraint violated during assembly", Cause: err}
	}
	return inv, nil
}

func (m *UBLMapper) mapParty(root *etree.Element, role string) (model.Party, error) {
	party := m.q.First(root, role+"/Party")
	if party == nil {
		return model.Party{}, model.NewMappingError(m.Format(), role+"/Party", "party element missing")
	}

	// Name lives in PartyName or PartyLegalEntity/RegistrationName.
	name := m.q.Text(party, "PartyName/Name", "")
	if name == "" {
		var err error
		name, err = m.q.RequiredText(party, "PartyLegalEntity/RegistrationName")
		if err != nil {
			return model.Party{}, err
		}
	}

	vatID := m.q.Text(party, `PartyTaxScheme[TaxScheme/ID="VAT"]/CompanyID`, "")

	// German fiscal numbers often ride in PartyLegalEntity/CompanyID when
	// it is not the VAT id.
	taxID := ""
	if legalID := m.q.Text(party, "PartyLegalEntity/CompanyID", ""); legalID != "" && legalID != vatID {
		taxID = legalID
	}

	address := m.q.First(party, "PostalAddress")
	if address == nil {
		return model.Party{}, model.NewMappingError(m.Format(), role+"/Party/PostalAddress", "postal address missing")
	}
	country, err := m.q.RequiredText(address, "Country/IdentificationCode")
	if err != nil {
		return model.Party{}, err
	}
	if !model.IsSupportedCountry(country) {
		return model.Party{}, model.NewMappingError(m.Format(), role+"/Party/PostalAddress/Country", "unsupported country code: "+country)
	}
	city, err := m.q.RequiredText(address, "CityName")
	if err != nil {
		return model.Party{}, err
	}
	postal, err := m.q.RequiredText(address, "PostalZone")
	if err != nil {
		return model.Party{}, err
	}

	return model.Party{
		Name:  name,
		VATID: vatID,
		TaxID: taxID,
		Address: model.Address{
			StreetName:           m.q.Text(address, "StreetName", ""),
			AdditionalStreetName: m.q.Text(address, "AdditionalStreetName", ""),
			CityName:             city,
			PostalZone:           postal,
			CountryCode:          country,
		},
	}, nil
}

func (m *UBLMapper) mapTaxBreakdown(root *etree.Element, taxInclusive, taxExclusive decimal.Decimal) ([]model.TaxBreakdown, error) {
	// UBL may carry several TaxTotal elements; the one with subtotals is
	// authoritative.
	taxTotal := m.q.First(root, "TaxTotal[TaxSubtotal]")
	if taxTotal == nil {
		if taxInclusive.GreaterThan(taxExclusive) {
			return nil, model.NewMappingError(m.Format(), "TaxTotal/TaxSubtotal", "tax breakdown missing although tax was charged")
		}
		return nil, nil
	}

	var breakdown []model.TaxBreakdown
	for _, sub := range m.q.All(taxTotal, "TaxSubtotal") {
		// Only VAT scheme rows participate.
		if m.q.Text(sub, "TaxCategory/TaxScheme/ID", "") != "VAT" {
			continue
		}

		taxable, err := m.q.RequiredDecimal(sub, "TaxableAmount")
		if err != nil {
			return nil, err
		}
		amount, err := m.q.RequiredDecimal(sub, "TaxAmount")
		if err != nil {
			return nil, err
		}

		catStr, err := m.q.RequiredText(sub, "TaxCategory/ID")
		if err != nil {
			return nil, err
		}
		category, ok := model.ParseTaxCategory(catStr)
		if !ok {
			return nil, model.NewMappingError(m.Format(), "TaxSubtotal/TaxCategory/ID", "invalid tax category: "+catStr)
		}

		rate, present, err := m.q.Decimal(sub, "TaxCategory/Percent")
		if err != nil {
			return nil, err
		}
		if !present {
			if !category.RateMayBeAbsent() {
				return nil, model.NewMappingError(m.Format(), "TaxSubtotal/TaxCategory/Percent", "tax rate missing for category "+string(category))
			}
			rate = decimal.Zero
		}

		breakdown = append(breakdown, model.TaxBreakdown{
			TaxCategory:   category,
			TaxRate:       rate,
			TaxableAmount: taxable,
			TaxAmount:     amount,
		})
	}
	return breakdown, nil
}

func (m *UBLMapper) mapLines(root *etree.Element, lineTag string, isInvoice bool) ([]model.InvoiceLine, error) {
	quantityTag := "InvoicedQuantity"
	if !isInvoice {
		quantityTag = "CreditedQuantity"
	}

	var lines []model.InvoiceLine
	for _, lineEl := range m.q.All(root, lineTag) {
		lineID, err := m.q.RequiredText(lineEl, "ID")
		if err != nil {
			return nil, err
		}

		quantity, err := m.q.RequiredDecimal(lineEl, quantityTag)
		if err != nil {
			return nil, err
		}
		unitCode := m.q.Text(lineEl, quantityTag+"/@unitCode", "C62")

		netAmount, err := m.q.RequiredDecimal(lineEl, "LineExtensionAmount")
		if err != nil {
			return nil, err
		}

		item := m.q.First(lineEl, "Item")
		itemName, err := m.q.RequiredText(item, "Name")
		if err != nil {
			return nil, err
		}

		catStr, err := m.q.RequiredText(item, "ClassifiedTaxCategory/ID")
		if err != nil {
			return nil, err
		}
		category, ok := model.ParseTaxCategory(catStr)
		if !ok {
			return nil, model.NewMappingError(m.Format(), "Item/ClassifiedTaxCategory/ID", "invalid tax category in line "+lineID+": "+catStr)
		}
		rate, err := m.q.DecimalDefault(item, "ClassifiedTaxCategory/Percent", decimal.Zero)
		if err != nil {
			return nil, err
		}

		// Unit price = PriceAmount / BaseQuantity; an absent base
		// quantity means 1.
		price := m.q.First(lineEl, "Price")
		priceAmount, err := m.q.RequiredDecimal(price, "PriceAmount")
		if err != nil {
			return nil, err
		}
		basisQuantity, err := m.q.DecimalDefault(price, "BaseQuantity", decimal.NewFromInt(1))
		if err != nil {
			return nil, err
		}
		if basisQuantity.IsZero() {
			return nil, model.NewMappingError(m.Format(), "Price/BaseQuantity", "base quantity is zero for line "+lineID)
		}

		lines = append(lines, model.InvoiceLine{
			LineID:          lineID,
			ItemName:        itemName,
			ItemDescription: m.q.Text(item, "Description", ""),
			ItemIdentifier:  m.itemIdentifier(item),
			Quantity:        quantity,
			UnitCode:        unitCode,
			UnitPrice:       priceAmount.Div(basisQuantity),
			LineNetAmount:   netAmount,
			TaxCategory:     category,
			TaxRate:         rate,
		})
	}
	return lines, nil
}

// itemIdentifier resolves the article identifier used for purchase-order
// matching: GTIN/EAN first, then the seller-assigned code, then the
// buyer-assigned code.
func (m *UBLMapper) itemIdentifier(item *etree.Element) string {
	if id := m.q.Text(item, "StandardItemIdentification/ID", ""); id != "" {
		return id
	}
	if id := m.q.Text(item, "SellersItemIdentification/ID", ""); id != "" {
		return id
	}
	return m.q.Text(item, "BuyersItemIdentification/ID", "")
}

func (m *UBLMapper) mapPaymentDetails(root *etree.Element) []model.BankDetails {
	var details []model.BankDetails
	// Only payment means carrying bank accounts: credit transfer (30) and
	// SEPA credit transfer (58).
	for _, code := range []string{"30", "58"} {
		for _, means := range m.q.All(root, `PaymentMeans[PaymentMeansCode="`+code+`"]`) {
			account := m.q.First(means, "PayeeFinancialAccount")
			if account == nil {
				continue
			}
			iban := m.q.Text(account, "ID", "")
			if iban == "" {
				continue
			}
			bic := m.q.Text(account, "FinancialInstitutionBranch/FinancialInstitution/ID", "")
			if bic == "" {
				// XRechnung sometimes puts the BIC directly on the branch.
				bic = m.q.Text(account, "FinancialInstitutionBranch/ID", "")
			}
			details = append(details, model.BankDetails{
				IBAN:        iban,
				BIC:         bic,
				AccountName: m.q.Text(account, "Name", ""),
			})
		}
	}
	return details
}
