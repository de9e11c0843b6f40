package mapper_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfaktur/einvoice/internal/mapper"
	"github.com/openfaktur/einvoice/internal/model"
)

const ublInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<ubl:Invoice xmlns:ubl="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
    xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
    xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>RE-2026-0815</cbc:ID>
  <cbc:IssueDate>2026-07-01</cbc:IssueDate>
  <cbc:InvoiceTypeCode>380</cbc:InvoiceTypeCode>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:OrderReference><cbc:ID>PO-4711</cbc:ID></cac:OrderReference>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyName><cbc:Name>Muster Metallbau GmbH</cbc:Name></cac:PartyName>
      <cac:PostalAddress>
        <cbc:StreetName>Werkstrasse 1</cbc:StreetName>
        <cbc:CityName>Dortmund</cbc:CityName>
        <cbc:PostalZone>44135</cbc:PostalZone>
        <cac:Country><cbc:IdentificationCode>DE</cbc:IdentificationCode></cac:Country>
      </cac:PostalAddress>
      <cac:PartyTaxScheme>
        <cbc:CompanyID>DE123456789</cbc:CompanyID>
        <cac:TaxScheme><cbc:ID>VAT</cbc:ID></cac:TaxScheme>
      </cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:AccountingCustomerParty>
    <cac:Party>
      <cac:PartyName><cbc:Name>Beispiel Handel AG</cbc:Name></cac:PartyName>
      <cac:PostalAddress>
        <cbc:StreetName>Marktplatz 5</cbc:StreetName>
        <cbc:CityName>Berlin</cbc:CityName>
        <cbc:PostalZone>10115</cbc:PostalZone>
        <cac:Country><cbc:IdentificationCode>DE</cbc:IdentificationCode></cac:Country>
      </cac:PostalAddress>
    </cac:Party>
  </cac:AccountingCustomerParty>
  <cac:PaymentMeans>
    <cbc:PaymentMeansCode>58</cbc:PaymentMeansCode>
    <cac:PayeeFinancialAccount>
      <cbc:ID>DE89370400440532013000</cbc:ID>
      <cac:FinancialInstitutionBranch><cbc:ID>COBADEFFXXX</cbc:ID></cac:FinancialInstitutionBranch>
    </cac:PayeeFinancialAccount>
  </cac:PaymentMeans>
  <cac:TaxTotal>
    <cbc:TaxAmount currencyID="EUR">38.00</cbc:TaxAmount>
    <cac:TaxSubtotal>
      <cbc:TaxableAmount currencyID="EUR">200.00</cbc:TaxableAmount>
      <cbc:TaxAmount currencyID="EUR">38.00</cbc:TaxAmount>
      <cac:TaxCategory>
        <cbc:ID>S</cbc:ID>
        <cbc:Percent>19</cbc:Percent>
        <cac:TaxScheme><cbc:ID>VAT</cbc:ID></cac:TaxScheme>
      </cac:TaxCategory>
    </cac:TaxSubtotal>
  </cac:TaxTotal>
  <cac:LegalMonetaryTotal>
    <cbc:LineExtensionAmount currencyID="EUR">200.00</cbc:LineExtensionAmount>
    <cbc:TaxExclusiveAmount currencyID="EUR">200.00</cbc:TaxExclusiveAmount>
    <cbc:TaxInclusiveAmount currencyID="EUR">238.00</cbc:TaxInclusiveAmount>
    <cbc:PayableAmount currencyID="EUR">238.00</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
  <cac:InvoiceLine>
    <cbc:ID>1</cbc:ID>
    <cbc:InvoicedQuantity unitCode="H87">10</cbc:InvoicedQuantity>
    <cbc:LineExtensionAmount currencyID="EUR">125.00</cbc:LineExtensionAmount>
    <cac:Item>
      <cbc:Name>Stahlwinkel 40x40</cbc:Name>
      <cac:SellersItemIdentification><cbc:ID>SW-40</cbc:ID></cac:SellersItemIdentification>
      <cac:ClassifiedTaxCategory>
        <cbc:ID>S</cbc:ID>
        <cbc:Percent>19</cbc:Percent>
        <cac:TaxScheme><cbc:ID>VAT</cbc:ID></cac:TaxScheme>
      </cac:ClassifiedTaxCategory>
    </cac:Item>
    <cac:Price><cbc:PriceAmount currencyID="EUR">12.50</cbc:PriceAmount></cac:Price>
  </cac:InvoiceLine>
  <cac:InvoiceLine>
    <cbc:ID>2</cbc:ID>
    <cbc:InvoicedQuantity unitCode="H87">2</cbc:InvoicedQuantity>
    <cbc:LineExtensionAmount currencyID="EUR">75.00</cbc:LineExtensionAmount>
    <cac:Item>
      <cbc:Name>Montageplatte 100</cbc:Name>
      <cac:SellersItemIdentification><cbc:ID>MP-100</cbc:ID></cac:SellersItemIdentification>
      <cac:ClassifiedTaxCategory>
        <cbc:ID>S</cbc:ID>
        <cbc:Percent>19</cbc:Percent>
        <cac:TaxScheme><cbc:ID>VAT</cbc:ID></cac:TaxScheme>
      </cac:ClassifiedTaxCategory>
    </cac:Item>
    <cac:Price><cbc:PriceAmount currencyID="EUR">37.50</cbc:PriceAmount></cac:Price>
  </cac:InvoiceLine>
</ubl:Invoice>`

const ciiInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<rsm:CrossIndustryInvoice xmlns:rsm="urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
    xmlns:ram="urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
    xmlns:udt="urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100">
  <rsm:ExchangedDocument>
    <ram:ID>RE-2026-0815</ram:ID>
    <ram:TypeCode>380</ram:TypeCode>
    <ram:IssueDateTime><udt:DateTimeString format="102">20260701</udt:DateTimeString></ram:IssueDateTime>
  </rsm:ExchangedDocument>
  <rsm:SupplyChainTradeTransaction>
    <ram:IncludedSupplyChainTradeLineItem>
      <ram:AssociatedDocumentLineDocument><ram:LineID>1</ram:LineID></ram:AssociatedDocumentLineDocument>
      <ram:SpecifiedTradeProduct>
        <ram:SellerAssignedID>SW-40</ram:SellerAssignedID>
        <ram:Name>Stahlwinkel 40x40</ram:Name>
      </ram:SpecifiedTradeProduct>
      <ram:SpecifiedLineTradeAgreement>
        <ram:NetPriceProductTradePrice><ram:ChargeAmount>12.50</ram:ChargeAmount></ram:NetPriceProductTradePrice>
      </ram:SpecifiedLineTradeAgreement>
      <ram:SpecifiedLineTradeDelivery><ram:BilledQuantity unitCode="H87">10</ram:BilledQuantity></ram:SpecifiedLineTradeDelivery>
      <ram:SpecifiedLineTradeSettlement>
        <ram:ApplicableTradeTax>
          <ram:TypeCode>VAT</ram:TypeCode>
          <ram:CategoryCode>S</ram:CategoryCode>
          <ram:RateApplicablePercent>19</ram:RateApplicablePercent>
        </ram:ApplicableTradeTax>
        <ram:SpecifiedTradeSettlementLineMonetarySummation><ram:LineTotalAmount>125.00</ram:LineTotalAmount></ram:SpecifiedTradeSettlementLineMonetarySummation>
      </ram:SpecifiedLineTradeSettlement>
    </ram:IncludedSupplyChainTradeLineItem>
    <ram:IncludedSupplyChainTradeLineItem>
      <ram:AssociatedDocumentLineDocument><ram:LineID>2</ram:LineID></ram:AssociatedDocumentLineDocument>
      <ram:SpecifiedTradeProduct>
        <ram:SellerAssignedID>MP-100</ram:SellerAssignedID>
        <ram:Name>Montageplatte 100</ram:Name>
      </ram:SpecifiedTradeProduct>
      <ram:SpecifiedLineTradeAgreement>
        <ram:NetPriceProductTradePrice><ram:ChargeAmount>37.50</ram:ChargeAmount></ram:NetPriceProductTradePrice>
      </ram:SpecifiedLineTradeAgreement>
      <ram:SpecifiedLineTradeDelivery><ram:BilledQuantity unitCode="H87">2</ram:BilledQuantity></ram:SpecifiedLineTradeDelivery>
      <ram:SpecifiedLineTradeSettlement>
        <ram:ApplicableTradeTax>
          <ram:TypeCode>VAT</ram:TypeCode>
          <ram:CategoryCode>S</ram:CategoryCode>
          <ram:RateApplicablePercent>19</ram:RateApplicablePercent>
        </ram:ApplicableTradeTax>
        <ram:SpecifiedTradeSettlementLineMonetarySummation><ram:LineTotalAmount>75.00</ram:LineTotalAmount></ram:SpecifiedTradeSettlementLineMonetarySummation>
      </ram:SpecifiedLineTradeSettlement>
    </ram:IncludedSupplyChainTradeLineItem>
    <ram:ApplicableHeaderTradeAgreement>
      <ram:SellerTradeParty>
        <ram:Name>Muster Metallbau GmbH</ram:Name>
        <ram:PostalTradeAddress>
          <ram:PostcodeCode>44135</ram:PostcodeCode>
          <ram:LineOne>Werkstrasse 1</ram:LineOne>
          <ram:CityName>Dortmund</ram:CityName>
          <ram:CountryID>DE</ram:CountryID>
        </ram:PostalTradeAddress>
        <ram:SpecifiedTaxRegistration><ram:ID schemeID="VA">DE123456789</ram:ID></ram:SpecifiedTaxRegistration>
      </ram:SellerTradeParty>
      <ram:BuyerTradeParty>
        <ram:Name>Beispiel Handel AG</ram:Name>
        <ram:PostalTradeAddress>
          <ram:PostcodeCode>10115</ram:PostcodeCode>
          <ram:LineOne>Marktplatz 5</ram:LineOne>
          <ram:CityName>Berlin</ram:CityName>
          <ram:CountryID>DE</ram:CountryID>
        </ram:PostalTradeAddress>
      </ram:BuyerTradeParty>
      <ram:BuyerOrderReferencedDocument><ram:IssuerAssignedID>PO-4711</ram:IssuerAssignedID></ram:BuyerOrderReferencedDocument>
    </ram:ApplicableHeaderTradeAgreement>
    <ram:ApplicableHeaderTradeDelivery/>
    <ram:ApplicableHeaderTradeSettlement>
      <ram:InvoiceCurrencyCode>EUR</ram:InvoiceCurrencyCode>
      <ram:SpecifiedTradeSettlementPaymentMeans>
        <ram:TypeCode>58</ram:TypeCode>
        <ram:PayeePartyCreditorFinancialAccount><ram:IBANID>DE89370400440532013000</ram:IBANID></ram:PayeePartyCreditorFinancialAccount>
        <ram:PayeeSpecifiedCreditorFinancialInstitution><ram:BICID>COBADEFFXXX</ram:BICID></ram:PayeeSpecifiedCreditorFinancialInstitution>
      </ram:SpecifiedTradeSettlementPaymentMeans>
      <ram:ApplicableTradeTax>
        <ram:CalculatedAmount>38.00</ram:CalculatedAmount>
        <ram:TypeCode>VAT</ram:TypeCode>
        <ram:BasisAmount>200.00</ram:BasisAmount>
        <ram:CategoryCode>S</ram:CategoryCode>
        <ram:RateApplicablePercent>19</ram:RateApplicablePercent>
      </ram:ApplicableTradeTax>
      <ram:SpecifiedTradeSettlementHeaderMonetarySummation>
        <ram:LineTotalAmount>200.00</ram:LineTotalAmount>
        <ram:TaxBasisTotalAmount>200.00</ram:TaxBasisTotalAmount>
        <ram:TaxTotalAmount currencyID="EUR">38.00</ram:TaxTotalAmount>
        <ram:GrandTotalAmount>238.00</ram:GrandTotalAmount>
        <ram:DuePayableAmount>238.00</ram:DuePayableAmount>
      </ram:SpecifiedTradeSettlementHeaderMonetarySummation>
    </ram:ApplicableHeaderTradeSettlement>
  </rsm:SupplyChainTradeTransaction>
</rsm:CrossIndustryInvoice>`

func assertCanonical(t *testing.T, inv *model.CanonicalInvoice) {
	t.Helper()

	assert.Equal(t, "RE-2026-0815", inv.InvoiceNumber)
	assert.Equal(t, "2026-07-01", inv.IssueDate.Format("2006-01-02"))
	assert.Equal(t, "380", inv.InvoiceTypeCode)
	assert.Equal(t, "EUR", inv.CurrencyCode)

	assert.Equal(t, "Muster Metallbau GmbH", inv.Seller.Name)
	assert.Equal(t, "DE123456789", inv.Seller.VATID)
	assert.Equal(t, "Dortmund", inv.Seller.Address.CityName)
	assert.Equal(t, "DE", inv.Seller.Address.CountryCode)
	assert.Equal(t, "Beispiel Handel AG", inv.Buyer.Name)

	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "1", inv.Lines[0].LineID)
	assert.Equal(t, "Stahlwinkel 40x40", inv.Lines[0].ItemName)
	assert.Equal(t, "SW-40", inv.Lines[0].ItemIdentifier)
	assert.Equal(t, "H87", inv.Lines[0].UnitCode)
	assert.True(t, inv.Lines[0].Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, inv.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, inv.Lines[0].LineNetAmount.Equal(decimal.RequireFromString("125.00")))
	assert.Equal(t, model.TaxCategoryStandard, inv.Lines[0].TaxCategory)
	assert.True(t, inv.Lines[0].TaxRate.Equal(decimal.NewFromInt(19)))
	assert.Equal(t, "MP-100", inv.Lines[1].ItemIdentifier)

	assert.True(t, inv.LineExtensionAmount.Equal(decimal.RequireFromString("200.00")))
	assert.True(t, inv.TaxExclusiveAmount.Equal(decimal.RequireFromString("200.00")))
	assert.True(t, inv.TaxInclusiveAmount.Equal(decimal.RequireFromString("238.00")))
	assert.True(t, inv.PayableAmount.Equal(decimal.RequireFromString("238.00")))

	require.Len(t, inv.TaxBreakdown, 1)
	assert.Equal(t, model.TaxCategoryStandard, inv.TaxBreakdown[0].TaxCategory)
	assert.True(t, inv.TaxBreakdown[0].TaxRate.Equal(decimal.NewFromInt(19)))
	assert.True(t, inv.TaxBreakdown[0].TaxAmount.Equal(decimal.RequireFromString("38.00")))
	assert.True(t, inv.TotalTaxAmount().Equal(decimal.RequireFromString("38.00")))

	require.Len(t, inv.PaymentDetails, 1)
	assert.Equal(t, "DE89370400440532013000", inv.PaymentDetails[0].IBAN)
	assert.Equal(t, "COBADEFFXXX", inv.PaymentDetails[0].BIC)

	require.NotNil(t, inv.PurchaseOrderReference)
	assert.Equal(t, "PO-4711", inv.PurchaseOrderReference.DocumentID)
}

func TestMapUBL(t *testing.T) {
	inv, err := mapper.NewRegistry().Map([]byte(ublInvoice), model.FormatXRechnungUBL)
	require.NoError(t, err)
	assertCanonical(t, inv)
}

func TestMapCII(t *testing.T) {
	inv, err := mapper.NewRegistry().Map([]byte(ciiInvoice), model.FormatXRechnungCII)
	require.NoError(t, err)
	assertCanonical(t, inv)
}

func TestMapHybridFormatsUseCII(t *testing.T) {
	for _, format := range []model.Format{model.FormatZUGFeRDCII, model.FormatFacturXCII} {
		t.Run(string(format), func(t *testing.T) {
			inv, err := mapper.NewRegistry().Map([]byte(ciiInvoice), format)
			require.NoError(t, err)
			assertCanonical(t, inv)
		})
	}
}

func TestMapPlainXMLFallsBackToNamespace(t *testing.T) {
	inv, err := mapper.NewRegistry().Map([]byte(ublInvoice), model.FormatPlainXML)
	require.NoError(t, err)
	assertCanonical(t, inv)
}

func TestMapMandatoryFields(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		format   model.Format
		remove   string
		wantPath string
	}{
		{
			name:     "UBL missing invoice number",
			source:   ublInvoice,
			format:   model.FormatXRechnungUBL,
			remove:   "<cbc:ID>RE-2026-0815</cbc:ID>",
			wantPath: "ID",
		},
		{
			name:     "UBL missing issue date",
			source:   ublInvoice,
			format:   model.FormatXRechnungUBL,
			remove:   "<cbc:IssueDate>2026-07-01</cbc:IssueDate>",
			wantPath: "IssueDate",
		},
		{
			name:     "UBL missing seller city",
			source:   ublInvoice,
			format:   model.FormatXRechnungUBL,
			remove:   "<cbc:CityName>Dortmund</cbc:CityName>",
			wantPath: "CityName",
		},
		{
			name:     "CII missing invoice number",
			source:   ciiInvoice,
			format:   model.FormatXRechnungCII,
			remove:   "<ram:ID>RE-2026-0815</ram:ID>",
			wantPath: "ID",
		},
		{
			name:     "CII missing currency",
			source:   ciiInvoice,
			format:   model.FormatXRechnungCII,
			remove:   "<ram:InvoiceCurrencyCode>EUR</ram:InvoiceCurrencyCode>",
			wantPath: "InvoiceCurrencyCode",
		},
		{
			name:     "CII missing seller name",
			source:   ciiInvoice,
			format:   model.FormatXRechnungCII,
			remove:   "<ram:Name>Muster Metallbau GmbH</ram:Name>",
			wantPath: "Name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := strings.Replace(tt.source, tt.remove, "", 1)
			require.NotEqual(t, tt.source, mutated, "mutation did not apply")

			_, err := mapper.NewRegistry().Map([]byte(mutated), tt.format)
			require.Error(t, err)

			var mapErr *model.MappingError
			require.ErrorAs(t, err, &mapErr)
			assert.Contains(t, mapErr.Path, tt.wantPath)
		})
	}
}

func TestMapUnsupportedCurrency(t *testing.T) {
	mutated := strings.Replace(ublInvoice, ">EUR</cbc:DocumentCurrencyCode>", ">JPY</cbc:DocumentCurrencyCode>", 1)
	_, err := mapper.NewRegistry().Map([]byte(mutated), model.FormatXRechnungUBL)

	var mapErr *model.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Contains(t, mapErr.Message, "JPY")
}

func TestMapInvalidDate(t *testing.T) {
	mutated := strings.Replace(ciiInvoice, ">20260701<", ">2026-07-01<", 1)
	_, err := mapper.NewRegistry().Map([]byte(mutated), model.FormatXRechnungCII)

	var mapErr *model.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Contains(t, mapErr.Message, "date")
}

func TestMapNotXML(t *testing.T) {
	_, err := mapper.NewRegistry().Map([]byte("not xml at all"), model.FormatXRechnungUBL)
	var mapErr *model.MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestMapUnsupportedFormat(t *testing.T) {
	_, err := mapper.NewRegistry().Map([]byte(`<other xmlns="urn:example:other"/>`), model.FormatPlainXML)
	var mapErr *model.MappingError
	require.ErrorAs(t, err, &mapErr)
}
