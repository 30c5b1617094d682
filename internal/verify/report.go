package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/chain"
	"arcintegrity/internal/density"
	"arcintegrity/internal/phi"
	"arcintegrity/internal/seed"
)

// Geometry describes the seed and the sampled pattern.
type Geometry struct {
	SeedUsed        float64          `json:"seed_used" yaml:"seed_used"`
	SeedsExtracted  int              `json:"seeds_extracted" yaml:"seeds_extracted"`
	FallbackSeed    bool             `json:"fallback_seed,omitempty" yaml:"fallback_seed,omitempty"`
	BlendMode       seed.BlendMode   `json:"blend_mode" yaml:"blend_mode"`
	Selector        arc.SelectorKind `json:"selector" yaml:"selector"`
	TrajectorySteps int              `json:"trajectory_steps" yaml:"trajectory_steps"`
	Bins            int              `json:"bins" yaml:"bins"`
	Bounds          arc.Bounds       `json:"bounds" yaml:"bounds"`
	Density         density.Summary  `json:"density_summary" yaml:"density_summary"`
}

// Report is the outcome of one Verify call.
type Report struct {
	RunID              string                `json:"run_id" yaml:"run_id"`
	Source             string                `json:"source,omitempty" yaml:"source,omitempty"`
	VerificationResult string                `json:"verification_result" yaml:"verification_result"`
	Eternal            chain.EternalResult   `json:"eternal_fingerprint" yaml:"eternal_fingerprint"`
	CoilChain          chain.CoilChainResult `json:"coil_chain" yaml:"coil_chain"`
	PhiRatio           phi.Result            `json:"phi_ratio" yaml:"phi_ratio"`
	External           chain.ExternalResult  `json:"external_fingerprints" yaml:"external_fingerprints"`
	Geometry           *Geometry             `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	GeometryError      string                `json:"geometry_error,omitempty" yaml:"geometry_error,omitempty"`
	Verdict            string                `json:"verdict" yaml:"verdict"`
	StartedAt          time.Time             `json:"started_at" yaml:"started_at"`
	Duration           time.Duration         `json:"duration_ns" yaml:"duration_ns"`
}

func (r *Report) setVerdict(ok bool) {
	if ok {
		r.VerificationResult = ResultPass
		r.Verdict = verdictPass
	} else {
		r.VerificationResult = ResultFail
		r.Verdict = verdictFail
	}
}

// Passed reports whether every integrity check passed.
func (r *Report) Passed() bool {
	return r.VerificationResult == ResultPass
}

// Summary generates a one-line summary of the report.
func (r *Report) Summary() string {
	var sb strings.Builder

	sb.WriteString("[" + r.VerificationResult + "]")
	checks, passed := 3, 0
	for _, ok := range []bool{r.Eternal.OK, r.CoilChain.OK, r.PhiRatio.OK} {
		if ok {
			passed++
		}
	}
	sb.WriteString(fmt.Sprintf(" %d/%d checks passed", passed, checks))
	sb.WriteString(fmt.Sprintf(", %d coils", r.CoilChain.CoilsChecked))
	if n := len(r.CoilChain.FailingIndices); n > 0 {
		sb.WriteString(fmt.Sprintf(" (%d failing)", n))
	}
	if r.Geometry != nil {
		sb.WriteString(fmt.Sprintf(", seed %.15f", r.Geometry.SeedUsed))
	}
	if r.Source != "" {
		sb.WriteString(" - " + r.Source)
	}
	return sb.String()
}

// ReportFormat specifies the output format for verification reports.
type ReportFormat string

const (
	FormatText     ReportFormat = "text"
	FormatJSON     ReportFormat = "json"
	FormatYAML     ReportFormat = "yaml"
	FormatMarkdown ReportFormat = "markdown"
)

// ParseFormat accepts the format names and the "md" and "yml" short forms.
func ParseFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// ReportGenerator generates verification reports in various formats.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
	color   bool
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(format ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: format}
}

// WithVerbose prints full digests and every coil in text output.
func (g *ReportGenerator) WithVerbose(verbose bool) *ReportGenerator {
	g.verbose = verbose
	return g
}

// WithColor enables ANSI colours in text output.
func (g *ReportGenerator) WithColor(enabled bool) *ReportGenerator {
	g.color = enabled
	return g
}

// Generate produces a report in the configured format.
func (g *ReportGenerator) Generate(report *Report, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		return g.generateJSON(report, w)
	case FormatText:
		return g.generateText(report, w)
	case FormatYAML:
		return g.generateYAML(report, w)
	case FormatMarkdown:
		return g.generateMarkdown(report, w)
	default:
		return fmt.Errorf("unknown format: %s", g.format)
	}
}

// GenerateAll writes several reports. JSON and YAML produce a single list
// document; text and markdown separate reports with a blank line.
func (g *ReportGenerator) GenerateAll(reports []*Report, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(reports)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(reports); err != nil {
			return err
		}
		return encoder.Close()
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := g.Generate(r, w); err != nil {
			return err
		}
	}
	return nil
}

func (g *ReportGenerator) generateJSON(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (g *ReportGenerator) generateYAML(report *Report, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(report); err != nil {
		return err
	}
	return encoder.Close()
}

// palette returns colourizers that honour the generator's colour setting
// regardless of the terminal.
func (g *ReportGenerator) palette() (ok, bad, dim *color.Color) {
	ok = color.New(color.FgGreen, color.Bold)
	bad = color.New(color.FgRed, color.Bold)
	dim = color.New(color.Faint)
	for _, c := range []*color.Color{ok, bad, dim} {
		if g.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return ok, bad, dim
}

func (g *ReportGenerator) generateText(report *Report, w io.Writer) error {
	okC, badC, dimC := g.palette()
	mark := func(pass bool) string {
		if pass {
			return okC.Sprint("OK")
		}
		return badC.Sprint("!!")
	}

	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                     ARC INTEGRITY VERIFICATION REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)

	result := badC.Sprint(report.VerificationResult)
	if report.Passed() {
		result = okC.Sprint(report.VerificationResult)
	}
	fmt.Fprintf(w, "Result:          %s\n", result)
	fmt.Fprintf(w, "Verdict:         %s\n", report.Verdict)
	if report.Source != "" {
		fmt.Fprintf(w, "Source:          %s\n", report.Source)
	}
	fmt.Fprintf(w, "Run ID:          %s\n", dimC.Sprint(report.RunID))
	fmt.Fprintf(w, "Duration:        %v\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Integrity Checks ---")
	fmt.Fprintf(w, "[%s] %-22s %s\n", mark(report.Eternal.OK), "eternal_fingerprint", g.truncateHash(report.Eternal.Actual))
	if !report.Eternal.OK {
		fmt.Fprintf(w, "    Recomputed: %s\n", g.truncateHash(report.Eternal.Expected))
	}
	fmt.Fprintf(w, "[%s] %-22s %d coils checked, %d failing\n", mark(report.CoilChain.OK), "coil_chain",
		report.CoilChain.CoilsChecked, len(report.CoilChain.FailingIndices))
	for _, c := range report.CoilChain.Coils {
		if c.OK && !g.verbose {
			continue
		}
		fmt.Fprintf(w, "    coil %-4d %s", c.Index, mark(c.OK))
		if len(c.Reasons) > 0 {
			fmt.Fprintf(w, " %s", strings.Join(c.Reasons, ", "))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "[%s] %-22s observed %.15f delta %.2e tolerance %.0e\n", mark(report.PhiRatio.OK), "phi_ratio",
		report.PhiRatio.Observed, report.PhiRatio.Delta, report.PhiRatio.Tolerance)
	fmt.Fprintf(w, "[--] %-22s %d listed, not recomputed\n", "external_fingerprints", report.External.Count)
	for _, e := range report.External.Entries {
		fmt.Fprintf(w, "    %s (%s)\n", e.Source, e.Algorithm)
	}
	fmt.Fprintln(w)

	if geo := report.Geometry; geo != nil {
		fmt.Fprintln(w, "--- Geometry ---")
		fmt.Fprintf(w, "Seed:            %.15f", geo.SeedUsed)
		if geo.FallbackSeed {
			fmt.Fprint(w, " (fallback, no coils)")
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Seeds Extracted: %d\n", geo.SeedsExtracted)
		fmt.Fprintf(w, "Blend Mode:      %s\n", geo.BlendMode)
		fmt.Fprintf(w, "Selector:        %s\n", geo.Selector)
		fmt.Fprintf(w, "Trajectory:      %d points\n", geo.TrajectorySteps)
		fmt.Fprintf(w, "Bounds:          real [%.3f, %.3f] imag [%.3f, %.3f]\n",
			geo.Bounds.RealMin, geo.Bounds.RealMax, geo.Bounds.ImagMin, geo.Bounds.ImagMax)
		fmt.Fprintf(w, "Density:         %dx%d, %d occupied, max %d\n",
			geo.Bins, geo.Bins, geo.Density.Occupied, geo.Density.MaxCount)
		fmt.Fprintln(w)
	} else if report.GeometryError != "" {
		fmt.Fprintln(w, "--- Geometry ---")
		fmt.Fprintf(w, "Skipped:         %s\n", badC.Sprint(report.GeometryError))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "================================================================================")
	return nil
}

func (g *ReportGenerator) generateMarkdown(report *Report, w io.Writer) error {
	tmpl := `# Arc Integrity Verification Report

## Summary

| Property | Value |
|----------|-------|
| **Result** | {{.VerificationResult}} |
| **Verdict** | {{.Verdict}} |
{{- if .Source}}
| **Source** | {{.Source}} |
{{- end}}
| **Run ID** | ` + "`{{.RunID}}`" + ` |
| **Duration** | {{.Duration}} |

## Integrity Checks

| Check | Status | Detail |
|-------|--------|--------|
| Eternal fingerprint | {{status .Eternal.OK}} | ` + "`{{short .Eternal.Actual}}`" + ` |
| Coil chain | {{status .CoilChain.OK}} | {{.CoilChain.CoilsChecked}} checked, {{len .CoilChain.FailingIndices}} failing |
| Phi ratio | {{status .PhiRatio.OK}} | delta {{printf "%.2e" .PhiRatio.Delta}} |
| External fingerprints | INFO | {{.External.Count}} listed |
{{if .CoilChain.FailingIndices}}
## Failing Coils

{{range .CoilChain.Coils}}{{if not .OK}}- coil {{.Index}}: {{join .Reasons ", "}}
{{end}}{{end}}{{end}}
{{- with .Geometry}}
## Geometry

- **Seed:** {{printf "%.15f" .SeedUsed}}
- **Seeds extracted:** {{.SeedsExtracted}}
- **Blend mode:** {{.BlendMode}}
- **Selector:** {{.Selector}}
- **Trajectory points:** {{.TrajectorySteps}}
- **Bounds:** real [{{printf "%.3f" .Bounds.RealMin}}, {{printf "%.3f" .Bounds.RealMax}}], imag [{{printf "%.3f" .Bounds.ImagMin}}, {{printf "%.3f" .Bounds.ImagMax}}]
- **Occupied cells:** {{.Density.Occupied}} of {{mult .Bins .Bins}}
{{end}}
{{- if .GeometryError}}
## Geometry

Skipped: {{.GeometryError}}
{{end}}
---
*Report generated at {{.StartedAt.Format "2006-01-02T15:04:05Z07:00"}}*
`

	funcMap := template.FuncMap{
		"mult": func(a, b int) int { return a * b },
		"join": strings.Join,
		"status": func(ok bool) string {
			if ok {
				return "PASS"
			}
			return "FAIL"
		},
		"short": g.truncateHash,
	}

	t, err := template.New("report").Funcs(funcMap).Parse(tmpl)
	if err != nil {
		return err
	}
	return t.Execute(w, report)
}

func (g *ReportGenerator) truncateHash(hash string) string {
	if len(hash) <= 32 || g.verbose {
		return hash
	}
	return hash[:16] + "..." + hash[len(hash)-16:]
}
