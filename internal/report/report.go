// Package report holds the structured validation report persisted with every
// invoice transaction: typed findings grouped into pipeline steps plus a
// derived summary.
package report

import (
	"time"

	"github.com/openfaktur/einvoice/internal/model"
)

// Category classifies what kind of rule a finding violates.
type Category string

const (
	CategoryStructure   Category = "STRUCTURE"
	CategorySemantic    Category = "SEMANTIC"
	CategoryCalculation Category = "CALCULATION"
	CategoryBusiness    Category = "BUSINESS"
	CategoryCompliance  Category = "COMPLIANCE"
	CategoryTechnical   Category = "TECHNICAL"
)

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
)

// Blocking reports whether the severity short-circuits the pipeline.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityFatal
}

// Finding is one validation result.
type Finding struct {
	Category      Category `json:"category"`
	Severity      Severity `json:"severity"`
	Code          string   `json:"code,omitempty"`
	Message       string   `json:"message"`
	Description   string   `json:"description,omitempty"`
	Location      string   `json:"location,omitempty"`
	ExpectedValue string   `json:"expected_value,omitempty"`
	ActualValue   string   `json:"actual_value,omitempty"`
}

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "SUCCESS"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
	StepWarning StepStatus = "WARNING"
)

// Step records one validation stage: its findings split into errors and
// warnings, plus free-form metadata.
type Step struct {
	StepName        string            `json:"step_name"`
	StepDescription string            `json:"step_description,omitempty"`
	Status          StepStatus        `json:"status"`
	DurationSeconds float64           `json:"duration_seconds"`
	Errors          []Finding         `json:"errors"`
	Warnings        []Finding         `json:"warnings"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewStep builds a step from a finding list, splitting blocking findings
// from warnings/infos and deriving the step status.
func NewStep(name, description string, findings []Finding, duration time.Duration) Step {
	step := Step{
		StepName:        name,
		StepDescription: description,
		Status:          StepSuccess,
		DurationSeconds: duration.Seconds(),
		Errors:          []Finding{},
		Warnings:        []Finding{},
	}
	for _, f := range findings {
		if f.Severity.Blocking() {
			step.Errors = append(step.Errors, f)
		} else {
			step.Warnings = append(step.Warnings, f)
		}
	}
	if len(step.Errors) > 0 {
		step.Status = StepFailed
	} else if len(step.Warnings) > 0 {
		step.Status = StepWarning
	}
	return step
}

// HasBlocking reports whether the step carries ERROR or FATAL findings.
func (s *Step) HasBlocking() bool {
	return len(s.Errors) > 0
}

// Summary is the derived roll-up over all steps.
type Summary struct {
	TotalErrors   int `json:"total_errors"`
	TotalWarnings int `json:"total_warnings"`
	FatalErrors   int `json:"fatal_errors"`

	StructureErrors   int `json:"structure_errors"`
	SemanticErrors    int `json:"semantic_errors"`
	CalculationErrors int `json:"calculation_errors"`
	ComplianceErrors  int `json:"compliance_errors"`
	BusinessErrors    int `json:"business_errors"`
	TechnicalErrors   int `json:"technical_errors"`

	IsValid             bool                  `json:"is_valid"`
	HighestLevelReached model.ValidationLevel `json:"highest_level_reached"`
}

// Report is the full validation report for one transaction, persisted as
// JSON on the transaction record.
type Report struct {
	TransactionID        string       `json:"transaction_id"`
	InvoiceNumber        string       `json:"invoice_number,omitempty"`
	DetectedFormat       model.Format `json:"detected_format,omitempty"`
	Steps                []Step       `json:"steps"`
	Summary              Summary      `json:"summary"`
	TotalDurationSeconds float64      `json:"total_duration_seconds"`
}

// NewReport creates an empty report for a transaction.
func NewReport(transactionID string) *Report {
	return &Report{
		TransactionID: transactionID,
		Steps:         []Step{},
		Summary:       Summary{HighestLevelReached: model.LevelNone},
	}
}

// AddStep appends a step and refreshes the summary.
func (r *Report) AddStep(step Step) {
	r.Steps = append(r.Steps, step)
	r.updateSummary()
}

// AllErrors returns every blocking finding across steps.
func (r *Report) AllErrors() []Finding {
	var out []Finding
	for _, s := range r.Steps {
		out = append(out, s.Errors...)
	}
	return out
}

// AllWarnings returns every non-blocking finding across steps.
func (r *Report) AllWarnings() []Finding {
	var out []Finding
	for _, s := range r.Steps {
		out = append(out, s.Warnings...)
	}
	return out
}

// HasWarnings reports whether any step carries WARNING findings. INFO
// findings do not count.
func (r *Report) HasWarnings() bool {
	for _, s := range r.Steps {
		for _, w := range s.Warnings {
			if w.Severity == SeverityWarning {
				return true
			}
		}
	}
	return false
}

func (r *Report) updateSummary() {
	sum := Summary{HighestLevelReached: model.LevelNone}

	for _, step := range r.Steps {
		for _, f := range step.Errors {
			sum.TotalErrors++
			if f.Severity == SeverityFatal {
				sum.FatalErrors++
			}
			switch f.Category {
			case CategoryStructure:
				sum.StructureErrors++
			case CategorySemantic:
				sum.SemanticErrors++
			case CategoryCalculation:
				sum.CalculationErrors++
			case CategoryCompliance:
				sum.ComplianceErrors++
			case CategoryBusiness:
				sum.BusinessErrors++
			case CategoryTechnical:
				sum.TechnicalErrors++
			}
		}
		for _, f := range step.Warnings {
			if f.Severity == SeverityWarning {
				sum.TotalWarnings++
			}
		}
	}

	sum.IsValid = sum.TotalErrors == 0 && sum.FatalErrors == 0
	sum.HighestLevelReached = r.highestLevel()
	r.Summary = sum
}

// stepLevels maps step names to the validation level they represent,
// ordered from lowest to highest.
var stepLevels = []struct {
	name  string
	level model.ValidationLevel
}{
	{StepNameStructure, model.LevelStructure},
	{StepNameSemantic, model.LevelSemantic},
	{StepNameCalculation, model.LevelCalculation},
	{StepNameBusiness, model.LevelBusiness},
	{StepNameCompliance, model.LevelCompliance},
}

func (r *Report) highestLevel() model.ValidationLevel {
	highest := model.LevelNone
	for _, sl := range stepLevels {
		for _, step := range r.Steps {
			if step.StepName == sl.name && step.Status != StepSkipped && !step.HasBlocking() {
				highest = sl.level
			}
		}
	}
	return highest
}

// Canonical step names used by the orchestrator and the summary derivation.
const (
	StepNameFormat      = "format_detection"
	StepNameStructure   = "structure_validation"
	StepNameSemantic    = "semantic_validation"
	StepNameMapping     = "canonical_mapping"
	StepNameCalculation = "calculation_validation"
	StepNameBusiness    = "business_validation"
	StepNameCompliance  = "compliance_check"
)
