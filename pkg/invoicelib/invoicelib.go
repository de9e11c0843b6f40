// Package invoicelib is the embeddable surface of the pipeline: format
// detection, canonical mapping and arithmetic checking for callers that
// bring their own bytes. Schema, rule and ERP validation need configured
// infrastructure and stay behind the service binaries.
package invoicelib

import (
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/mapper"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
	"github.com/openfaktur/einvoice/internal/validate"
)

// Result is the outcome of inspecting one submission.
type Result struct {
	// Format is the detected submission format.
	Format model.Format

	// Invoice is the canonical model, nil when the submission is
	// unstructured or mapping failed.
	Invoice *model.CanonicalInvoice

	// Findings are the arithmetic consistency findings for the mapped
	// invoice.
	Findings []report.Finding

	// Err is the mapping error for structured submissions that could not
	// be normalized.
	Err error
}

// Detect classifies raw bytes without mapping them.
func Detect(data []byte) model.Format {
	return extract.NewExtractor(zerolog.Nop()).Extract(data).Format
}

// Parse maps a structured submission (XML or hybrid PDF) into the canonical
// model.
func Parse(data []byte) (*model.CanonicalInvoice, error) {
	res := extract.NewExtractor(zerolog.Nop()).Extract(data)
	if !res.Format.IsStructured() {
		return nil, model.NewMappingError(res.Format, "", "submission is not a structured invoice")
	}
	return mapper.NewRegistry().Map(res.XML, res.Format)
}

// Inspect detects, maps and arithmetically checks a submission in one call.
func Inspect(data []byte) Result {
	res := extract.NewExtractor(zerolog.Nop()).Extract(data)
	out := Result{Format: res.Format}
	if !res.Format.IsStructured() {
		return out
	}

	inv, err := mapper.NewRegistry().Map(res.XML, res.Format)
	if err != nil {
		out.Err = err
		return out
	}
	out.Invoice = inv
	out.Findings = validate.NewCalculationValidator().Validate(inv)
	return out
}
