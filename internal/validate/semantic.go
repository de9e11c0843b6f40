package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
)

// Tool failure codes carried by ToolError. These are technical faults of the
// validation environment and must never be reported as document findings.
const (
	ToolCodeTimeout        = "TOOL_TIMEOUT"
	ToolCodeRuntimeMissing = "TOOL_RUNTIME_MISSING"
	ToolCodeNoReport       = "TOOL_NO_REPORT"
)

// RuleEngine runs the external semantic rule validator against invoice XML
// and returns the raw SVRL report bytes.
type RuleEngine interface {
	Run(ctx context.Context, xmlData []byte, transactionID string) ([]byte, error)
}

// KoSITEngine shells out to the KoSIT validator jar. The tool exits nonzero
// for invalid documents, so the exit code is ignored and only the presence
// of a report decides whether the run succeeded.
type KoSITEngine struct {
	assets AssetConfig
	log    zerolog.Logger
}

// NewKoSITEngine creates a rule engine over the configured tool assets.
func NewKoSITEngine(assets AssetConfig, log zerolog.Logger) *KoSITEngine {
	return &KoSITEngine{assets: assets, log: log.With().Str("component", "rule-engine").Logger()}
}

// Run validates xmlData and returns the SVRL report. Tool faults (missing
// runtime, timeout, no report produced) are typed ToolErrors.
func (e *KoSITEngine) Run(ctx context.Context, xmlData []byte, transactionID string) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "rulecheck-*")
	if err != nil {
		return nil, model.NewToolError(ToolCodeNoReport, "cannot create scratch directory", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, transactionID+".xml")
	if err := os.WriteFile(inputPath, xmlData, 0o600); err != nil {
		return nil, model.NewToolError(ToolCodeNoReport, "cannot write tool input", err)
	}

	java := e.assets.JavaBinary
	if java == "" {
		java = "java"
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, java,
		"-jar", e.assets.RuleToolJarPath,
		"-s", e.assets.RuleScenariosPath,
		"-r", workDir,
		inputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	e.log.Debug().Dur("took", time.Since(start)).Str("transaction_id", transactionID).Msg("rule tool finished")

	if ctx.Err() != nil {
		return nil, model.NewToolError(ToolCodeTimeout, "rule tool exceeded its deadline", ctx.Err())
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Not an exit status: the java binary itself could not run.
			return nil, model.NewToolError(ToolCodeRuntimeMissing, "rule tool runtime unavailable", runErr)
		}
		// Nonzero exit is the tool's way of saying "invoice invalid".
		// The report carries the findings.
	}

	reportPath := filepath.Join(workDir, transactionID+".xml-report.xml")
	svrl, err := os.ReadFile(reportPath)
	if err != nil {
		e.log.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("rule tool produced no report")
		return nil, model.NewToolError(ToolCodeNoReport, "rule tool produced no report", err)
	}
	return svrl, nil
}

// SemanticValidator runs the rule engine and translates its SVRL report into
// findings.
type SemanticValidator struct {
	engine RuleEngine
	log    zerolog.Logger
}

// NewSemanticValidator creates a semantic validator over a rule engine.
func NewSemanticValidator(engine RuleEngine, log zerolog.Logger) *SemanticValidator {
	return &SemanticValidator{engine: engine, log: log.With().Str("component", "semantic").Logger()}
}

// Validate runs the rules against xmlData. The error return is reserved for
// tool faults; document faults come back as findings.
func (v *SemanticValidator) Validate(ctx context.Context, xmlData []byte, transactionID string) ([]report.Finding, error) {
	svrl, err := v.engine.Run(ctx, xmlData, transactionID)
	if err != nil {
		return nil, err
	}
	findings, err := ParseSVRL(svrl)
	if err != nil {
		return nil, model.NewToolError(ToolCodeNoReport, "rule tool report is unreadable", err)
	}
	v.log.Debug().Int("findings", len(findings)).Str("transaction_id", transactionID).Msg("semantic validation complete")
	return findings, nil
}

const nsSVRL = "http://purl.oclc.org/dsdl/svrl"

// ParseSVRL translates an SVRL report into findings. failed-assert elements
// are blocking rule violations. successful-report elements carry warnings
// and informational hints depending on their role. Fired-rule bookkeeping
// elements are ignored. The KoSIT tool wraps the schematron output inside
// its own report envelope, so findings are collected at any depth.
func ParseSVRL(svrl []byte) ([]report.Finding, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(svrl); err != nil {
		return nil, fmt.Errorf("malformed SVRL: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("malformed SVRL: no root element")
	}
	return collectSVRL(root, nil), nil
}

func collectSVRL(el *etree.Element, findings []report.Finding) []report.Finding {
	if el.NamespaceURI() == nsSVRL {
		switch el.Tag {
		case "failed-assert":
			return append(findings, svrlFinding(el, assertSeverity(el)))
		case "successful-report":
			if sev, ok := reportSeverity(el); ok {
				return append(findings, svrlFinding(el, sev))
			}
			return findings
		}
	}
	for _, child := range el.ChildElements() {
		findings = collectSVRL(child, findings)
	}
	return findings
}

func svrlFinding(el *etree.Element, severity report.Severity) report.Finding {
	return report.Finding{
		Category:    report.CategorySemantic,
		Severity:    severity,
		Code:        attr(el, "id"),
		Message:     svrlText(el),
		Location:    attr(el, "location"),
		Description: attr(el, "test"),
	}
}

func assertSeverity(el *etree.Element) report.Severity {
	if strings.EqualFold(attr(el, "flag"), "fatal") {
		return report.SeverityFatal
	}
	return report.SeverityError
}

func reportSeverity(el *etree.Element) (report.Severity, bool) {
	switch strings.ToLower(attr(el, "role")) {
	case "warning", "warn":
		return report.SeverityWarning, true
	case "information", "info":
		return report.SeverityInfo, true
	}
	return "", false
}

func attr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func svrlText(el *etree.Element) string {
	for _, child := range el.ChildElements() {
		if child.Tag == "text" {
			return strings.TrimSpace(child.Text())
		}
	}
	return ""
}
