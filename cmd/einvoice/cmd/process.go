package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/mapper"
	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
	"github.com/openfaktur/einvoice/internal/validate"
)

var (
	processOutput  string
	processNoRules bool
	processTimeout time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Validate local invoice files without the database",
	Long: `Run the extract, schema, rule, mapping and calculation stages
against local files and print the validation report. Business validation
needs the ERP and is not part of this command.

Examples:
  einvoice process invoice.xml
  einvoice process --no-rules *.pdf
  einvoice process invoice.xml -o report.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "Write the report to a file instead of stdout")
	processCmd.Flags().BoolVar(&processNoRules, "no-rules", false, "Skip the external rule tool")
	processCmd.Flags().DurationVar(&processTimeout, "timeout", 2*time.Minute, "Per-file processing timeout")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := newLogger()

	extractor := extract.NewExtractor(log)
	registry := mapper.NewRegistry()
	structure := validate.NewStructureValidator(cfg.Assets, log)
	calculation := validate.NewCalculationValidator()

	var semantic *validate.SemanticValidator
	if !processNoRules {
		if err := cfg.Assets.Verify(); err != nil {
			return fmt.Errorf("rule validation needs configured assets (or pass --no-rules): %w", err)
		}
		semantic = validate.NewSemanticValidator(validate.NewKoSITEngine(cfg.Assets, log), log)
	}

	var reports []*report.Report
	for _, path := range args {
		rep, err := processFile(path, extractor, registry, structure, semantic, calculation)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		reports = append(reports, rep)
	}

	out, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	if processOutput != "" {
		return os.WriteFile(processOutput, out, 0o644)
	}
	fmt.Println(string(out))
	return nil
}

func processFile(
	path string,
	extractor *extract.Extractor,
	registry *mapper.Registry,
	structure *validate.StructureValidator,
	semantic *validate.SemanticValidator,
	calculation *validate.CalculationValidator,
) (*report.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	rep := report.NewReport(path)
	started := time.Now()

	stageStart := time.Now()
	res := extractor.Extract(data)
	rep.DetectedFormat = res.Format
	step := report.NewStep(report.StepNameFormat, "detect submission format", nil, time.Since(stageStart))
	step.Metadata = map[string]string{"detected_format": string(res.Format)}
	rep.AddStep(step)

	if !res.Format.IsStructured() {
		rep.TotalDurationSeconds = time.Since(started).Seconds()
		return rep, nil
	}

	stageStart = time.Now()
	findings := structure.Validate(res.XML, res.Format)
	rep.AddStep(report.NewStep(report.StepNameStructure, "validate against the official schema", findings, time.Since(stageStart)))
	if hasBlocking(findings) {
		rep.TotalDurationSeconds = time.Since(started).Seconds()
		return rep, nil
	}

	if semantic != nil {
		stageStart = time.Now()
		findings, err = semantic.Validate(ctx, res.XML, "local")
		if err != nil {
			return nil, err
		}
		rep.AddStep(report.NewStep(report.StepNameSemantic, "validate business rules", findings, time.Since(stageStart)))
		if hasBlocking(findings) {
			rep.TotalDurationSeconds = time.Since(started).Seconds()
			return rep, nil
		}
	}

	stageStart = time.Now()
	inv, err := registry.Map(res.XML, res.Format)
	if err != nil {
		var mapErr *model.MappingError
		if !errors.As(err, &mapErr) {
			return nil, err
		}
		rep.AddStep(report.NewStep(report.StepNameMapping, "normalize into the canonical model", []report.Finding{{
			Category: report.CategoryStructure,
			Severity: report.SeverityFatal,
			Code:     "MAPPING_FAILED",
			Message:  mapErr.Message,
			Location: mapErr.Path,
		}}, time.Since(stageStart)))
		rep.TotalDurationSeconds = time.Since(started).Seconds()
		return rep, nil
	}
	rep.InvoiceNumber = inv.InvoiceNumber
	rep.AddStep(report.NewStep(report.StepNameMapping, "normalize into the canonical model", nil, time.Since(stageStart)))

	stageStart = time.Now()
	findings = calculation.Validate(inv)
	rep.AddStep(report.NewStep(report.StepNameCalculation, "verify arithmetic consistency", findings, time.Since(stageStart)))

	rep.TotalDurationSeconds = time.Since(started).Seconds()
	return rep, nil
}

func hasBlocking(findings []report.Finding) bool {
	for _, f := range findings {
		if f.Severity.Blocking() {
			return true
		}
	}
	return false
}
