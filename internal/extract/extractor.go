// Package extract classifies raw submission bytes and pulls embedded invoice
// XML out of hybrid PDF containers (ZUGFeRD/Factur-X).
package extract

import (
	"bytes"
	"io"

	"github.com/beevik/etree"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/model"
)

// EN 16931 root namespaces.
const (
	nsCII           = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
	nsUBLInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	nsUBLCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
)

var pdfMagic = []byte("%PDF-")

// Embedded-file names that mark a hybrid invoice PDF.
var attachmentFormats = map[string]model.Format{
	"factur-x.xml":        model.FormatFacturXCII,
	"zugferd-invoice.xml": model.FormatZUGFeRDCII,
	"xrechnung.xml":       model.FormatZUGFeRDCII,
}

// Result is the outcome of format detection: the classified format and, for
// structured submissions, the invoice XML bytes.
type Result struct {
	Format model.Format
	XML    []byte
}

// Extractor classifies raw bytes and extracts embedded XML.
type Extractor struct {
	log zerolog.Logger
}

// NewExtractor creates a new format extractor.
func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "extract").Logger()}
}

// Extract classifies data. A corrupt or unreadable PDF is a recoverable
// classification (UNKNOWN), never an error.
func (e *Extractor) Extract(data []byte) Result {
	if format := AnalyzeXML(data); format != "" {
		e.log.Debug().Str("format", string(format)).Msg("classified as XML")
		return Result{Format: format, XML: data}
	}

	if bytes.HasPrefix(bytes.TrimSpace(data), pdfMagic) {
		return e.extractFromPDF(data)
	}

	e.log.Debug().Msg("neither XML nor PDF magic, classifying as unknown")
	return Result{Format: model.FormatUnknown}
}

// AnalyzeXML parses data as XML and classifies it by the root element's
// namespace. Returns the empty format if data is not well-formed XML.
func AnalyzeXML(data []byte) model.Format {
	root := parseRoot(data)
	if root == nil {
		return ""
	}
	switch root.NamespaceURI() {
	case nsCII:
		return model.FormatXRechnungCII
	case nsUBLInvoice, nsUBLCreditNote:
		return model.FormatXRechnungUBL
	}
	return model.FormatPlainXML
}

// RootTag returns the local name of the XML root element, or "" if data is
// not well-formed XML. Used to pick the UBL invoice vs credit-note schema.
func RootTag(data []byte) string {
	root := parseRoot(data)
	if root == nil {
		return ""
	}
	return root.Tag
}

func parseRoot(data []byte) *etree.Element {
	doc := etree.NewDocument()
	// etree performs no external entity resolution, so XXE is structurally
	// impossible here.
	if err := doc.ReadFromBytes(data); err != nil {
		return nil
	}
	return doc.Root()
}

func (e *Extractor) extractFromPDF(data []byte) Result {
	atts, err := api.Attachments(bytes.NewReader(data), nil)
	if err != nil {
		e.log.Warn().Err(err).Msg("unreadable PDF, classifying as unknown")
		return Result{Format: model.FormatUnknown}
	}

	for _, att := range atts {
		name := att.FileName
		format, ok := attachmentFormats[name]
		if !ok {
			continue
		}

		xml, err := e.readAttachment(data, name)
		if err != nil {
			e.log.Warn().Err(err).Str("attachment", name).Msg("attachment extraction failed")
			return Result{Format: model.FormatUnknown}
		}

		// The container is only usable if the embedded bytes are
		// themselves well-formed XML.
		if AnalyzeXML(xml) == "" {
			e.log.Error().Str("attachment", name).Msg("embedded attachment is not valid XML, downgrading to OTHER_PDF")
			return Result{Format: model.FormatOtherPDF}
		}

		e.log.Info().Str("attachment", name).Str("format", string(format)).Msg("extracted embedded invoice XML")
		return Result{Format: format, XML: xml}
	}

	return Result{Format: model.FormatOtherPDF}
}

func (e *Extractor) readAttachment(data []byte, name string) ([]byte, error) {
	// Raw extraction returns in-memory readers, so no output directory is
	// involved.
	atts, err := api.ExtractAttachmentsRaw(bytes.NewReader(data), "", []string{name}, nil)
	if err != nil {
		return nil, err
	}
	if len(atts) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return io.ReadAll(atts[0])
}
