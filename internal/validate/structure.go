package validate

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/libxml2"
	"github.com/lestrrat-go/libxml2/xsd"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
)

// Finding codes produced by structural validation.
const (
	CodeXSDSchemaMissing = "XSD_SCHEMA_MISSING"
	CodeXSDSchemaInvalid = "XSD_SCHEMA_INVALID"
	CodeXMLSyntaxError   = "XML_SYNTAX_ERROR"
	CodeXSDViolation     = "XSD_VIOLATION"
)

// StructureValidator checks invoice XML against the official XSD schema set
// for its dialect. Compiled schemas are cached per path since compilation is
// expensive and the schema set never changes at runtime.
type StructureValidator struct {
	assets  AssetConfig
	schemas *cache.Cache
	log     zerolog.Logger
}

// NewStructureValidator creates a validator over the configured schema assets.
func NewStructureValidator(assets AssetConfig, log zerolog.Logger) *StructureValidator {
	return &StructureValidator{
		assets:  assets,
		schemas: cache.New(cache.NoExpiration, cache.NoExpiration),
		log:     log.With().Str("component", "structure").Logger(),
	}
}

// Validate checks xmlData against the schema for format. Findings describe
// document faults; configuration faults (missing or uncompilable schema)
// surface as FATAL TECHNICAL findings so the submission is never misreported
// as structurally invalid.
func (v *StructureValidator) Validate(xmlData []byte, format model.Format) []report.Finding {
	schemaPath, err := v.assets.SchemaPathFor(format, extract.RootTag(xmlData))
	if err != nil {
		return []report.Finding{{
			Category: report.CategoryTechnical,
			Severity: report.SeverityFatal,
			Code:     CodeXSDSchemaMissing,
			Message:  err.Error(),
		}}
	}

	schema, err := v.compiledSchema(schemaPath)
	if err != nil {
		v.log.Error().Err(err).Str("schema", schemaPath).Msg("schema compilation failed")
		return []report.Finding{{
			Category: report.CategoryTechnical,
			Severity: report.SeverityFatal,
			Code:     CodeXSDSchemaInvalid,
			Message:  fmt.Sprintf("schema %s could not be compiled: %v", schemaPath, err),
		}}
	}

	doc, err := libxml2.Parse(xmlData)
	if err != nil {
		return []report.Finding{{
			Category: report.CategoryStructure,
			Severity: report.SeverityFatal,
			Code:     CodeXMLSyntaxError,
			Message:  "document is not well-formed XML",
			// libxml2 parse errors carry line and column context.
			Description: err.Error(),
		}}
	}
	defer doc.Free()

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	verr, ok := err.(xsd.SchemaValidationError)
	if !ok {
		return []report.Finding{{
			Category: report.CategoryStructure,
			Severity: report.SeverityError,
			Code:     CodeXSDViolation,
			Message:  err.Error(),
		}}
	}

	var findings []report.Finding
	for _, e := range verr.Errors() {
		findings = append(findings, report.Finding{
			Category: report.CategoryStructure,
			Severity: report.SeverityError,
			Code:     CodeXSDViolation,
			Message:  e.Error(),
		})
	}
	v.log.Debug().Int("violations", len(findings)).Str("format", string(format)).Msg("schema validation failed")
	return findings
}

func (v *StructureValidator) compiledSchema(path string) (*xsd.Schema, error) {
	if cached, ok := v.schemas.Get(path); ok {
		return cached.(*xsd.Schema), nil
	}
	start := time.Now()
	schema, err := xsd.ParseFromFile(path)
	if err != nil {
		return nil, err
	}
	v.log.Info().Str("schema", path).Dur("compile_time", time.Since(start)).Msg("compiled schema")
	v.schemas.Set(path, schema, cache.NoExpiration)
	return schema, nil
}
