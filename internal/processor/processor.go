// Package processor orchestrates the validation pipeline for one invoice
// transaction: claim, format detection, structural, semantic, calculation
// and business validation, and the terminal status decision.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
	"github.com/openfaktur/einvoice/internal/store"
)

// TransactionStore is the persistence surface the orchestrator needs.
type TransactionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*store.InvoiceTransaction, error)
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, status model.TransactionStatus, reason string, rep *report.Report, inv *model.CanonicalInvoice, format model.Format, xmlURI string) error
	LogStep(ctx context.Context, id uuid.UUID, step, message, detail string)
}

// Extractor classifies raw bytes and extracts embedded XML.
type Extractor interface {
	Extract(data []byte) extract.Result
}

// Mapper normalizes dialect XML into the canonical model.
type Mapper interface {
	Map(data []byte, detected model.Format) (*model.CanonicalInvoice, error)
}

// StructureValidator checks XML against the dialect schema.
type StructureValidator interface {
	Validate(xmlData []byte, format model.Format) []report.Finding
}

// SemanticValidator runs the external rule tool.
type SemanticValidator interface {
	Validate(ctx context.Context, xmlData []byte, transactionID string) ([]report.Finding, error)
}

// CalculationValidator checks arithmetic consistency.
type CalculationValidator interface {
	Validate(inv *model.CanonicalInvoice) []report.Finding
}

// BusinessValidator cross-checks the invoice against ERP master data.
type BusinessValidator interface {
	Validate(ctx context.Context, inv *model.CanonicalInvoice) ([]report.Finding, error)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Transactions TransactionStore
	Blobs        store.BlobStore
	Extractor    Extractor
	Mapper       Mapper
	Structure    StructureValidator
	Semantic     SemanticValidator
	Calculation  CalculationValidator
	Business     BusinessValidator
	Logger       zerolog.Logger
}

// Processor runs the pipeline for single transactions.
type Processor struct {
	d   Deps
	log zerolog.Logger
}

// New creates a processor. All collaborators are required.
func New(d Deps) (*Processor, error) {
	switch {
	case d.Transactions == nil:
		return nil, errors.New("processor: transaction store is required")
	case d.Blobs == nil:
		return nil, errors.New("processor: blob store is required")
	case d.Extractor == nil:
		return nil, errors.New("processor: extractor is required")
	case d.Mapper == nil:
		return nil, errors.New("processor: mapper is required")
	case d.Structure == nil || d.Semantic == nil || d.Calculation == nil || d.Business == nil:
		return nil, errors.New("processor: all validators are required")
	}
	return &Processor{d: d, log: d.Logger.With().Str("component", "processor").Logger()}, nil
}

// Outcome is the result of one processing attempt.
type Outcome struct {
	Status  model.TransactionStatus
	Reason  string
	Report  *report.Report
	Invoice *model.CanonicalInvoice
	Format  model.Format
}

// Process runs the pipeline for one transaction. A nil Outcome with nil
// error means the claim was lost to another worker and nothing happened.
// A returned error is always infrastructural (retryable); document faults
// end in a terminal Outcome instead.
func (p *Processor) Process(ctx context.Context, transactionID string) (*Outcome, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", transactionID, err)
	}
	log := p.log.With().Str("transaction_id", transactionID).Logger()

	claimed, err := p.d.Transactions.ClaimForProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Info().Msg("claim lost, transaction already processing or terminal")
		return nil, nil
	}
	p.d.Transactions.LogStep(ctx, id, "claim", "transaction claimed for processing", "")

	tx, err := p.d.Transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, model.NewInfraError("processor.load", "claimed transaction vanished", nil)
	}

	raw, err := p.d.Blobs.Download(ctx, tx.RawStorageURI)
	if err != nil {
		return nil, err
	}

	rep := report.NewReport(transactionID)
	started := time.Now()

	// Stage 1: format detection. Never fails; unsupported formats leave
	// the pipeline here for a human.
	stageStart := time.Now()
	res := p.d.Extractor.Extract(raw)
	rep.DetectedFormat = res.Format

	var formatFindings []report.Finding
	if !res.Format.IsStructured() {
		formatFindings = append(formatFindings, report.Finding{
			Category:    report.CategoryTechnical,
			Severity:    report.SeverityInfo,
			Code:        "FORMAT_UNSTRUCTURED",
			Message:     "submission carries no machine-readable invoice data",
			ActualValue: string(res.Format),
		})
	}
	formatStep := report.NewStep(report.StepNameFormat, "detect submission format and extract invoice XML", formatFindings, time.Since(stageStart))
	formatStep.Metadata = map[string]string{"detected_format": string(res.Format)}
	rep.AddStep(formatStep)
	p.d.Transactions.LogStep(ctx, id, report.StepNameFormat, "detected format "+string(res.Format), "")

	if !res.Format.IsStructured() {
		log.Info().Str("format", string(res.Format)).Msg("unstructured submission, routing to manual review")
		return p.finalize(ctx, id, rep, started, Outcome{
			Status: model.StatusManualReview,
			Reason: "unsupported format " + string(res.Format),
			Format: res.Format,
		}, "")
	}

	// Hybrid containers get their extracted XML persisted next to the raw
	// PDF so later stages and operators never re-extract.
	xmlURI := tx.RawStorageURI
	if res.Format.IsCII() && res.Format != model.FormatXRechnungCII {
		xmlURI, err = p.d.Blobs.Upload(ctx, transactionID+".xml", res.XML, "application/xml")
		if err != nil {
			return nil, err
		}
	}

	// Stage 2: structural validation.
	stageStart = time.Now()
	findings := p.d.Structure.Validate(res.XML, res.Format)
	if f, broken := technicalFault(findings); broken {
		// The schema assets are broken, not the document. Retryable.
		return nil, model.NewInfraError("processor.structure", f.Message, nil)
	}
	rep.AddStep(report.NewStep(report.StepNameStructure, "validate XML against the official schema", findings, time.Since(stageStart)))
	p.d.Transactions.LogStep(ctx, id, report.StepNameStructure, stepSummary(findings), "")
	if hasBlocking(findings) {
		return p.finalize(ctx, id, rep, started, Outcome{
			Status: model.StatusInvalid,
			Reason: "structural validation failed",
			Format: res.Format,
		}, xmlURI)
	}

	// Stage 3: semantic rule validation.
	stageStart = time.Now()
	findings, err = p.d.Semantic.Validate(ctx, res.XML, transactionID)
	if err != nil {
		var toolErr *model.ToolError
		if errors.As(err, &toolErr) {
			return nil, model.NewInfraError("processor.semantic", "rule tool unavailable", err)
		}
		return nil, err
	}
	rep.AddStep(report.NewStep(report.StepNameSemantic, "validate business rules via the external rule tool", findings, time.Since(stageStart)))
	p.d.Transactions.LogStep(ctx, id, report.StepNameSemantic, stepSummary(findings), "")
	if hasBlocking(findings) {
		return p.finalize(ctx, id, rep, started, Outcome{
			Status: model.StatusInvalid,
			Reason: "semantic validation failed",
			Format: res.Format,
		}, xmlURI)
	}

	// Stage 4: canonical mapping. A mapping failure is a document fault,
	// recorded as a fatal finding.
	stageStart = time.Now()
	inv, err := p.d.Mapper.Map(res.XML, res.Format)
	if err != nil {
		var mapErr *model.MappingError
		if !errors.As(err, &mapErr) {
			return nil, err
		}
		rep.AddStep(report.NewStep(report.StepNameMapping, "normalize into the canonical invoice model", []report.Finding{{
			Category: report.CategoryStructure,
			Severity: report.SeverityFatal,
			Code:     "MAPPING_FAILED",
			Message:  mapErr.Message,
			Location: mapErr.Path,
		}}, time.Since(stageStart)))
		p.d.Transactions.LogStep(ctx, id, report.StepNameMapping, "canonical mapping failed", mapErr.Error())
		return p.finalize(ctx, id, rep, started, Outcome{
			Status: model.StatusInvalid,
			Reason: "canonical mapping failed",
			Format: res.Format,
		}, xmlURI)
	}
	rep.InvoiceNumber = inv.InvoiceNumber
	rep.AddStep(report.NewStep(report.StepNameMapping, "normalize into the canonical invoice model", nil, time.Since(stageStart)))
	p.d.Transactions.LogStep(ctx, id, report.StepNameMapping, "mapped invoice "+inv.InvoiceNumber, "")

	// Stage 5: calculation validation.
	stageStart = time.Now()
	findings = p.d.Calculation.Validate(inv)
	rep.AddStep(report.NewStep(report.StepNameCalculation, "verify arithmetic consistency of totals and taxes", findings, time.Since(stageStart)))
	p.d.Transactions.LogStep(ctx, id, report.StepNameCalculation, stepSummary(findings), "")
	if hasBlocking(findings) {
		return p.finalize(ctx, id, rep, started, Outcome{
			Status:  model.StatusInvalid,
			Reason:  "calculation validation failed",
			Invoice: inv,
			Format:  res.Format,
		}, xmlURI)
	}

	// Stage 6: business validation against the ERP.
	stageStart = time.Now()
	findings, err = p.d.Business.Validate(ctx, inv)
	if err != nil {
		return nil, err
	}
	rep.AddStep(report.NewStep(report.StepNameBusiness, "cross-check vendor, duplicates, bank details and purchase order", findings, time.Since(stageStart)))
	p.d.Transactions.LogStep(ctx, id, report.StepNameBusiness, stepSummary(findings), "")
	if hasBlocking(findings) {
		return p.finalize(ctx, id, rep, started, Outcome{
			Status:  model.StatusInvalid,
			Reason:  "business validation failed",
			Invoice: inv,
			Format:  res.Format,
		}, xmlURI)
	}

	// Warnings never invalidate, but a warning-carrying invoice needs a
	// human decision before booking.
	if rep.HasWarnings() {
		log.Info().Str("invoice_number", inv.InvoiceNumber).Int("warnings", rep.Summary.TotalWarnings).Msg("transaction valid with warnings, routing to manual review")
		return p.finalize(ctx, id, rep, started, Outcome{
			Status:  model.StatusManualReview,
			Reason:  fmt.Sprintf("passed with %d warning(s), review required", rep.Summary.TotalWarnings),
			Invoice: inv,
			Format:  res.Format,
		}, xmlURI)
	}
	log.Info().Str("invoice_number", inv.InvoiceNumber).Msg("transaction valid")
	return p.finalize(ctx, id, rep, started, Outcome{
		Status:  model.StatusValid,
		Reason:  "all validation stages passed",
		Invoice: inv,
		Format:  res.Format,
	}, xmlURI)
}

func (p *Processor) finalize(ctx context.Context, id uuid.UUID, rep *report.Report, started time.Time, out Outcome, xmlURI string) (*Outcome, error) {
	rep.TotalDurationSeconds = time.Since(started).Seconds()
	out.Report = rep
	if err := p.d.Transactions.Finalize(ctx, id, out.Status, out.Reason, rep, out.Invoice, out.Format, xmlURI); err != nil {
		return nil, err
	}
	p.d.Transactions.LogStep(ctx, id, "finalize", "transaction finalized as "+string(out.Status), out.Reason)
	return &out, nil
}

func hasBlocking(findings []report.Finding) bool {
	for _, f := range findings {
		if f.Severity.Blocking() {
			return true
		}
	}
	return false
}

// technicalFault picks out findings that describe a broken validation
// environment rather than a broken document.
func technicalFault(findings []report.Finding) (report.Finding, bool) {
	for _, f := range findings {
		if f.Category == report.CategoryTechnical {
			return f, true
		}
	}
	return report.Finding{}, false
}

func stepSummary(findings []report.Finding) string {
	errs, warns := 0, 0
	for _, f := range findings {
		if f.Severity.Blocking() {
			errs++
		} else if f.Severity == report.SeverityWarning {
			warns++
		}
	}
	if errs == 0 && warns == 0 {
		return "passed"
	}
	return fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)
}
