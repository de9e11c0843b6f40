package mapper

import (
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/openfaktur/einvoice/internal/model"
)

// CIIMapper maps UN/CEFACT Cross Industry Invoice documents (XRechnung CII,
// ZUGFeRD, Factur-X) into the canonical model.
type CIIMapper struct {
	q Query
}

// NewCIIMapper creates a new CII dialect mapper.
func NewCIIMapper() *CIIMapper {
	return &CIIMapper{q: NewQuery(model.FormatXRechnungCII)}
}

// Format returns the dialect this mapper handles.
func (m *CIIMapper) Format() model.Format {
	return model.FormatXRechnungCII
}

// MapToCanonical maps a parsed CII root element into the canonical model.
func (m *CIIMapper) MapToCanonical(root *etree.Element) (*model.CanonicalInvoice, error) {
	header := m.q.First(root, "ExchangedDocument")
	if header == nil {
		return nil, model.NewMappingError(m.Format(), "ExchangedDocument", "document header missing")
	}

	invoiceNumber, err := m.q.RequiredText(header, "ID")
	if err != nil {
		return nil, err
	}

	// Date format 102 is YYYYMMDD.
	issueDateStr, err := m.q.RequiredText(header, `IssueDateTime/DateTimeString[@format="102"]`)
	if err != nil {
		return nil, err
	}
	issueDate, err := time.Parse("20060102", issueDateStr)
	if err != nil {
		return nil, model.NewMappingError(m.Format(), "ExchangedDocument/IssueDateTime", "invalid date format (expected YYYYMMDD): "+issueDateStr)
	}

	typeCode := m.q.Text(header, "TypeCode", "380")

	transaction := m.q.First(root, "SupplyChainTradeTransaction")
	if transaction == nil {
		return nil, model.NewMappingError(m.Format(), "SupplyChainTradeTransaction", "transaction element missing")
	}

	agreement := m.q.First(transaction, "ApplicableHeaderTradeAgreement")
	settlement := m.q.First(transaction, "ApplicableHeaderTradeSettlement")
	if agreement == nil || settlement == nil {
		return nil, model.NewMappingError(m.Format(), "SupplyChainTradeTransaction", "trade agreement or trade settlement missing")
	}

	currency, err := m.q.RequiredText(settlement, "InvoiceCurrencyCode")
	if err != nil {
		return nil, err
	}
	if !model.IsSupportedCurrency(currency) {
		return nil, model.NewMappingError(m.Format(), "InvoiceCurrencyCode", "invalid or unsupported currency code: "+currency)
	}

	seller, err := m.mapParty(agreement, "Seller")
	if err != nil {
		return nil, err
	}
	buyer, err := m.mapParty(agreement, "Buyer")
	if err != nil {
		return nil, err
	}

	summation := m.q.First(settlement, "SpecifiedTradeSettlementHeaderMonetarySummation")
	if summation == nil {
		return nil, model.NewMappingError(m.Format(), "SpecifiedTradeSettlementHeaderMonetarySummation", "monetary summation missing")
	}

	lineExtension, err := m.q.RequiredDecimal(summation, "LineTotalAmount")
	if err != nil {
		return nil, err
	}
	taxExclusive, err := m.q.RequiredDecimal(summation, "TaxBasisTotalAmount")
	if err != nil {
		return nil, err
	}
	// GrandTotalAmount is the gross (tax inclusive) total.
	taxInclusive, err := m.q.RequiredDecimal(summation, "GrandTotalAmount")
	if err != nil {
		return nil, err
	}
	payable, err := m.q.RequiredDecimal(summation, "DuePayableAmount")
	if err != nil {
		return nil, err
	}
	allowanceTotal, err := m.q.DecimalDefault(summation, "AllowanceTotalAmount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	chargeTotal, err := m.q.DecimalDefault(summation, "ChargeTotalAmount", decimal.Zero)
	if err != nil {
		return nil, err
	}

	breakdown, err := m.mapTaxBreakdown(settlement)
	if err != nil {
		return nil, err
	}

	lines, err := m.mapLines(transaction)
	if err != nil {
		return nil, err
	}

	var poRef *model.DocumentReference
	if poID := m.q.Text(agreement, "BuyerOrderReferencedDocument/IssuerAssignedID", ""); poID != "" {
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
		PaymentDetails:         m.mapPaymentDetails(settlement),
		PurchaseOrderReference: poRef,
	}

	if err := inv.Validate(); err != nil {
		return nil, &model.MappingError{Format: m.Format(), Message: "canonical model constraint violated during assembly", Cause: err}
	}
	return inv, nil
}

func (m *CIIMapper) mapParty(agreement *etree.Element, role string) (model.Party, error) {
	path := role + "TradeParty"
	party := m.q.First(agreement, path)
	if party == nil {
		return model.Party{}, model.NewMappingError(m.Format(), path, "party element missing")
	}

	name, err := m.q.RequiredText(party, "Name")
	if err != nil {
		return model.Party{}, err
	}

	// schemeID VA is the VAT registration, FC the fiscal code.
	vatID := m.q.Text(party, `SpecifiedTaxRegistration[ID/@schemeID="VA"]/ID`, "")
	taxID := m.q.Text(party, `SpecifiedTaxRegistration[ID/@schemeID="FC"]/ID`, "")

	address := m.q.First(party, "PostalTradeAddress")
	if address == nil {
		return model.Party{}, model.NewMappingError(m.Format(), path+"/PostalTradeAddress", "postal address missing")
	}
	country, err := m.q.RequiredText(address, "CountryID")
	if err != nil {
		return model.Party{}, err
	}
	if !model.IsSupportedCountry(country) {
		return model.Party{}, model.NewMappingError(m.Format(), path+"/PostalTradeAddress/CountryID", "unsupported country code: "+country)
	}
	city, err := m.q.RequiredText(address, "CityName")
	if err != nil {
		return model.Party{}, err
	}
	postal, err := m.q.RequiredText(address, "PostcodeCode")
	if err != nil {
		return model.Party{}, err
	}

	return model.Party{
		Name:  name,
		VATID: vatID,
		TaxID: taxID,
		Address: model.Address{
			StreetName:           m.q.Text(address, "LineOne", ""),
			AdditionalStreetName: m.q.Text(address, "LineTwo", ""),
			CityName:             city,
			PostalZone:           postal,
			CountryCode:          country,
		},
	}, nil
}

func (m *CIIMapper) mapTaxBreakdown(settlement *etree.Element) ([]model.TaxBreakdown, error) {
	var breakdown []model.TaxBreakdown
	for _, taxEl := range m.q.All(settlement, "ApplicableTradeTax") {
		// Only VAT rows participate.
		if m.q.Text(taxEl, "TypeCode", "") != "VAT" {
			continue
		}

		taxable, err := m.q.RequiredDecimal(taxEl, "BasisAmount")
		if err != nil {
			return nil, err
		}
		amount, err := m.q.RequiredDecimal(taxEl, "CalculatedAmount")
		if err != nil {
			return nil, err
		}

		catStr, err := m.q.RequiredText(taxEl, "CategoryCode")
		if err != nil {
			return nil, err
		}
		category, ok := model.ParseTaxCategory(catStr)
		if !ok {
			return nil, model.NewMappingError(m.Format(), "ApplicableTradeTax/CategoryCode", "invalid tax category: "+catStr)
		}

		rate, present, err := m.rate(taxEl)
		if err != nil {
			return nil, err
		}
		if !present {
			if !category.RateMayBeAbsent() {
				return nil, model.NewMappingError(m.Format(), "ApplicableTradeTax/RateApplicablePercent", "tax rate missing for category "+string(category))
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

// rate reads the tax rate, which lives in RateApplicablePercent or, in
// older ZUGFeRD profiles, ApplicablePercent.
func (m *CIIMapper) rate(taxEl *etree.Element) (decimal.Decimal, bool, error) {
	rate, present, err := m.q.Decimal(taxEl, "RateApplicablePercent")
	if err != nil || present {
		return rate, present, err
	}
	return m.q.Decimal(taxEl, "ApplicablePercent")
}

func (m *CIIMapper) mapLines(transaction *etree.Element) ([]model.InvoiceLine, error) {
	var lines []model.InvoiceLine
	for _, lineEl := range m.q.All(transaction, "IncludedSupplyChainTradeLineItem") {
		lineID, err := m.q.RequiredText(m.q.First(lineEl, "AssociatedDocumentLineDocument"), "LineID")
		if err != nil {
			return nil, err
		}

		product := m.q.First(lineEl, "SpecifiedTradeProduct")
		itemName, err := m.q.RequiredText(product, "Name")
		if err != nil {
			return nil, err
		}

		lineAgreement := m.q.First(lineEl, "SpecifiedLineTradeAgreement")
		lineDelivery := m.q.First(lineEl, "SpecifiedLineTradeDelivery")
		lineSettlement := m.q.First(lineEl, "SpecifiedLineTradeSettlement")

		quantity, err := m.q.RequiredDecimal(lineDelivery, "BilledQuantity")
		if err != nil {
			return nil, err
		}
		unitCode := m.q.Text(lineDelivery, "BilledQuantity/@unitCode", "C62")

		// EN 16931 recommends the net price for unit price derivation.
		price := m.q.First(lineAgreement, "NetPriceProductTradePrice")
		if price == nil {
			return nil, model.NewMappingError(m.Format(), "SpecifiedLineTradeAgreement/NetPriceProductTradePrice", "net price missing for line "+lineID)
		}
		chargeAmount, err := m.q.RequiredDecimal(price, "ChargeAmount")
		if err != nil {
			return nil, err
		}
		basisQuantity, err := m.q.DecimalDefault(price, "BasisQuantity", decimal.NewFromInt(1))
		if err != nil {
			return nil, err
		}
		if basisQuantity.IsZero() {
			return nil, model.NewMappingError(m.Format(), "NetPriceProductTradePrice/BasisQuantity", "basis quantity is zero for line "+lineID)
		}

		netAmount, err := m.q.RequiredDecimal(m.q.First(lineSettlement, "SpecifiedTradeSettlementLineMonetarySummation"), "LineTotalAmount")
		if err != nil {
			return nil, err
		}

		taxEl := m.q.First(lineSettlement, "ApplicableTradeTax")
		catStr, err := m.q.RequiredText(taxEl, "CategoryCode")
		if err != nil {
			return nil, err
		}
		category, ok := model.ParseTaxCategory(catStr)
		if !ok {
			return nil, model.NewMappingError(m.Format(), "ApplicableTradeTax/CategoryCode", "invalid tax category in line "+lineID+": "+catStr)
		}
		// A missing line rate defaults to zero (exempt, zero rate,
		// reverse charge).
		rate, _, err := m.rate(taxEl)
		if err != nil {
			return nil, err
		}

		lines = append(lines, model.InvoiceLine{
			LineID:          lineID,
			ItemName:        itemName,
			ItemDescription: m.q.Text(product, "Description", ""),
			ItemIdentifier:  m.itemIdentifier(product),
			Quantity:        quantity,
			UnitCode:        unitCode,
			UnitPrice:       chargeAmount.Div(basisQuantity),
			LineNetAmount:   netAmount,
			TaxCategory:     category,
			TaxRate:         rate,
		})
	}
	return lines, nil
}

// itemIdentifier resolves the article identifier used for purchase-order
// matching: GlobalID (GTIN/EAN) first, then the seller-assigned article
// number, then the buyer-assigned one.
func (m *CIIMapper) itemIdentifier(product *etree.Element) string {
	if id := m.q.Text(product, "GlobalID", ""); id != "" {
		return id
	}
	if id := m.q.Text(product, "SellerAssignedID", ""); id != "" {
		return id
	}
	return m.q.Text(product, "BuyerAssignedID", "")
}

func (m *CIIMapper) mapPaymentDetails(settlement *etree.Element) []model.BankDetails {
	var details []model.BankDetails
	for _, code := range []string{"30", "58"} {
		for _, means := range m.q.All(settlement, `SpecifiedTradeSettlementPaymentMeans[TypeCode="`+code+`"]`) {
			account := m.q.First(means, "PayeePartyCreditorFinancialAccount")
			if account == nil {
				continue
			}
			iban := m.q.Text(account, "IBANID", "")
			if iban == "" {
				continue
			}
			details = append(details, model.BankDetails{
				IBAN:        iban,
				BIC:         m.q.Text(means, "PayeeSpecifiedCreditorFinancialInstitution/BICID", ""),
				AccountName: m.q.Text(account, "AccountName", ""),
			})
		}
	}
	return details
}
