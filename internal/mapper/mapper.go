// Package mapper normalizes dialect XML (UBL, CII) into the canonical
// invoice model.
package mapper

import (
	"github.com/beevik/etree"

	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/model"
)

// DialectMapper transforms one XML dialect into the canonical invoice model.
type DialectMapper interface {
	// MapToCanonical maps the parsed root element, or fails with a
	// typed MappingError.
	MapToCanonical(root *etree.Element) (*model.CanonicalInvoice, error)

	// Format returns the dialect this mapper handles.
	Format() model.Format
}

// Registry dispatches to the dialect mapper matching a detected format.
type Registry struct {
	ubl *UBLMapper
	cii *CIIMapper
}

// NewRegistry creates a registry with both dialect mappers.
func NewRegistry() *Registry {
	return &Registry{
		ubl: NewUBLMapper(),
		cii: NewCIIMapper(),
	}
}

// Map parses data and maps it into the canonical model. Hybrid formats
// (ZUGFeRD/Factur-X) use CII syntax. When the detected format is
// unspecific (PLAIN_XML), the XML content itself decides.
func (r *Registry) Map(data []byte, detected model.Format) (*model.CanonicalInvoice, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &model.MappingError{Format: detected, Message: "provided bytes are not well-formed XML", Cause: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, model.NewMappingError(detected, "", "provided bytes contain no root element")
	}

	m := r.mapperFor(detected, data)
	if m == nil {
		return nil, model.NewMappingError(detected, "", "format is not supported for canonical mapping")
	}
	return m.MapToCanonical(root)
}

func (r *Registry) mapperFor(detected model.Format, data []byte) DialectMapper {
	switch {
	case detected.IsCII():
		return r.cii
	case detected == model.FormatXRechnungUBL:
		return r.ubl
	}
	// Fallback: let the document's own namespace decide.
	switch extract.AnalyzeXML(data) {
	case model.FormatXRechnungCII:
		return r.cii
	case model.FormatXRechnungUBL:
		return r.ubl
	}
	return nil
}
