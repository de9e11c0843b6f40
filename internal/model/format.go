package model

// Format is the detected submission format.
type Format string

const (
	FormatXRechnungUBL Format = "XRECHNUNG_UBL"
	FormatXRechnungCII Format = "XRECHNUNG_CII"
	FormatZUGFeRDCII   Format = "ZUGFERD_CII"
	FormatFacturXCII   Format = "FACTURX_CII"
	FormatOtherPDF     Format = "OTHER_PDF"
	FormatPlainXML     Format = "PLAIN_XML"
	FormatUnknown      Format = "UNKNOWN"
)

// IsCII reports whether the format carries CII syntax.
func (f Format) IsCII() bool {
	return f == FormatXRechnungCII || f == FormatZUGFeRDCII || f == FormatFacturXCII
}

// IsStructured reports whether the format carries machine-readable invoice
// data the pipeline can validate. Unstructured submissions go to manual
// review instead.
func (f Format) IsStructured() bool {
	return f.IsCII() || f == FormatXRechnungUBL
}

// TransactionStatus is the processing state machine for one submission.
type TransactionStatus string

const (
	StatusReceived     TransactionStatus = "RECEIVED"
	StatusProcessing   TransactionStatus = "PROCESSING"
	StatusValid        TransactionStatus = "VALID"
	StatusInvalid      TransactionStatus = "INVALID"
	StatusManualReview TransactionStatus = "MANUAL_REVIEW"
	StatusError        TransactionStatus = "ERROR"
)

// IsTerminal reports whether the status ends an attempt. ERROR is terminal
// for the attempt but retryable from outside.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusManualReview, StatusError:
		return true
	}
	return false
}

// ValidationLevel is the highest pipeline stage a submission reached.
type ValidationLevel string

const (
	LevelNone        ValidationLevel = "NONE"
	LevelStructure   ValidationLevel = "STRUCTURE"
	LevelSemantic    ValidationLevel = "SEMANTIC"
	LevelCalculation ValidationLevel = "CALCULATION"
	LevelBusiness    ValidationLevel = "BUSINESS"
	LevelCompliance  ValidationLevel = "COMPLIANCE"
)
