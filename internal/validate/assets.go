// Package validate implements the validation stages of the pipeline:
// structural (XSD), semantic (EN 16931 / XRechnung rules), calculation
// (arithmetic consistency) and business (purchase-order matching).
package validate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfaktur/einvoice/internal/model"
)

// AssetConfig locates the on-disk validation assets: XSD schema sets per
// dialect and the external rule-validation tool with its scenario
// configuration. All paths are injected explicitly, never discovered.
type AssetConfig struct {
	// CIISchemaPath is the root XSD of the CrossIndustryInvoice schema set.
	CIISchemaPath string

	// UBLInvoiceSchemaPath and UBLCreditNoteSchemaPath are the root XSDs
	// for the two UBL document types.
	UBLInvoiceSchemaPath    string
	UBLCreditNoteSchemaPath string

	// RuleToolJarPath is the executable jar of the rule validator.
	RuleToolJarPath string

	// RuleScenariosPath is the scenario configuration handed to the tool.
	RuleScenariosPath string

	// JavaBinary overrides the java executable, defaulting to "java".
	JavaBinary string
}

// SchemaPathFor resolves the XSD root for a detected format. UBL needs the
// document root tag to choose between the invoice and credit-note schema.
func (c AssetConfig) SchemaPathFor(format model.Format, rootTag string) (string, error) {
	switch {
	case format.IsCII():
		return c.CIISchemaPath, nil
	case format == model.FormatXRechnungUBL:
		if rootTag == "CreditNote" {
			return c.UBLCreditNoteSchemaPath, nil
		}
		return c.UBLInvoiceSchemaPath, nil
	}
	return "", fmt.Errorf("no schema registered for format %s", format)
}

// Verify checks that the configured assets exist, so a misconfiguration
// surfaces at startup instead of mid-pipeline.
func (c AssetConfig) Verify() error {
	for name, path := range map[string]string{
		"CII schema":             c.CIISchemaPath,
		"UBL invoice schema":     c.UBLInvoiceSchemaPath,
		"UBL credit-note schema": c.UBLCreditNoteSchemaPath,
		"rule tool jar":          c.RuleToolJarPath,
		"rule scenarios":         c.RuleScenariosPath,
	} {
		if path == "" {
			return fmt.Errorf("validation asset %s is not configured", name)
		}
		if _, err := os.Stat(filepath.Clean(path)); err != nil {
			return fmt.Errorf("validation asset %s not found at %s: %w", name, path, err)
		}
	}
	return nil
}
