package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"arcintegrity/internal/envelope"
)

func sampleReports(t *testing.T) (pass, fail *Report) {
	t.Helper()
	v := newTestVerifier()

	pass, err := v.Verify(context.Background(), generate(t, 5))
	require.NoError(t, err)
	pass.Source = "good.json"

	bad := mutate(t, generate(t, 4), func(core map[string]any) {
		gens := core[envelope.KeyGenerations].([]any)
		gens[1].(map[string]any)["fingerprint"] = "zz"
	})
	fail, err = v.Verify(context.Background(), bad)
	require.NoError(t, err)
	return pass, fail
}

func render(t *testing.T, g *ReportGenerator, r *Report) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, g.Generate(r, &buf))
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ReportFormat
	}{
		{"", FormatText},
		{"text", FormatText},
		{"JSON", FormatJSON},
		{"yml", FormatYAML},
		{"yaml", FormatYAML},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestReportJSONKeys(t *testing.T) {
	pass, _ := sampleReports(t)
	out := render(t, NewReportGenerator(FormatJSON), pass)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	for _, key := range []string{
		"run_id", "verification_result", "eternal_fingerprint", "coil_chain",
		"phi_ratio", "external_fingerprints", "geometry", "verdict",
		"started_at", "duration_ns",
	} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "PASS", doc["verification_result"])

	geo := doc["geometry"].(map[string]any)
	assert.Equal(t, "composite", geo["blend_mode"])
	assert.Equal(t, "pcg", geo["selector"])
	assert.Contains(t, geo, "density_summary")

	coils := doc["coil_chain"].(map[string]any)
	assert.Equal(t, []any{}, coils["failing_indices"])
	assert.Contains(t, coils, "details")
}

func TestReportJSONMatchesSchema(t *testing.T) {
	pass, fail := sampleReports(t)

	fallback, err := newTestVerifier().Verify(context.Background(), generate(t, 0))
	require.NoError(t, err)

	for name, r := range map[string]*Report{"pass": pass, "fail": fail, "fallback": fallback} {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(r)
			require.NoError(t, err)
			assert.NoError(t, ValidateReportJSON(data))
		})
	}
}

func TestReportSchemaRejects(t *testing.T) {
	assert.Error(t, ValidateReportJSON([]byte(`{"run_id":"x"}`)))
	assert.Error(t, ValidateReportJSON([]byte(`not json`)))
	assert.Contains(t, ReportSchema(), `"verification_result"`)
}

func TestReportYAML(t *testing.T) {
	pass, _ := sampleReports(t)
	out := render(t, NewReportGenerator(FormatYAML), pass)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "PASS", doc["verification_result"])
	assert.Equal(t, pass.RunID, doc["run_id"])

	geo := doc["geometry"].(map[string]any)
	assert.Equal(t, "composite", geo["blend_mode"])
	assert.Equal(t, 5, geo["seeds_extracted"])
}

func TestReportText(t *testing.T) {
	pass, fail := sampleReports(t)

	out := render(t, NewReportGenerator(FormatText), pass)
	assert.Contains(t, out, "ARC INTEGRITY VERIFICATION REPORT")
	assert.Contains(t, out, "Result:          PASS")
	assert.Contains(t, out, "Source:          good.json")
	assert.Contains(t, out, "[OK] eternal_fingerprint")
	assert.Contains(t, out, "5 coils checked, 0 failing")
	assert.Contains(t, out, "--- Geometry ---")
	assert.Contains(t, out, "Blend Mode:      composite")
	assert.NotContains(t, out, "\x1b[")
	assert.NotContains(t, out, "coil 0 ", "passing coils hidden unless verbose")

	out = render(t, NewReportGenerator(FormatText), fail)
	assert.Contains(t, out, "Result:          FAIL")
	assert.Contains(t, out, "[!!] coil_chain")
	assert.Contains(t, out, "invalid_fingerprint_format")
	assert.Contains(t, out, "Skipped:")

	out = render(t, NewReportGenerator(FormatText).WithVerbose(true), pass)
	assert.Contains(t, out, pass.Eternal.Actual)
	assert.Contains(t, out, "coil 0 ")
}

func TestReportTextColor(t *testing.T) {
	pass, _ := sampleReports(t)
	out := render(t, NewReportGenerator(FormatText).WithColor(true), pass)
	assert.Contains(t, out, "\x1b[")
}

func TestReportMarkdown(t *testing.T) {
	pass, fail := sampleReports(t)

	out := render(t, NewReportGenerator(FormatMarkdown), pass)
	assert.True(t, strings.HasPrefix(out, "# Arc Integrity Verification Report"))
	assert.Contains(t, out, "| **Result** | PASS |")
	assert.Contains(t, out, "| Coil chain | PASS | 5 checked, 0 failing |")
	assert.Contains(t, out, "## Geometry")
	assert.Contains(t, out, "of 1024")

	out = render(t, NewReportGenerator(FormatMarkdown), fail)
	assert.Contains(t, out, "## Failing Coils")
	assert.Contains(t, out, "- coil 1: invalid_fingerprint_format")
	assert.Contains(t, out, "Skipped:")
}

func TestReportUnknownFormat(t *testing.T) {
	pass, _ := sampleReports(t)
	err := NewReportGenerator("html").Generate(pass, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestGenerateAll(t *testing.T) {
	pass, fail := sampleReports(t)
	reports := []*Report{pass, fail}

	var buf bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatJSON).GenerateAll(reports, &buf))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "FAIL", list[1]["verification_result"])

	buf.Reset()
	require.NoError(t, NewReportGenerator(FormatYAML).GenerateAll(reports, &buf))
	var ylist []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &ylist))
	assert.Len(t, ylist, 2)

	buf.Reset()
	require.NoError(t, NewReportGenerator(FormatText).GenerateAll(reports, &buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "ARC INTEGRITY VERIFICATION REPORT"))
}

func TestReportSummary(t *testing.T) {
	pass, fail := sampleReports(t)

	s := pass.Summary()
	assert.True(t, strings.HasPrefix(s, "[PASS] 3/3 checks passed, 5 coils"))
	assert.True(t, strings.HasSuffix(s, " - good.json"))

	s = fail.Summary()
	assert.True(t, strings.HasPrefix(s, "[FAIL]"))
	assert.Contains(t, s, "(3 failing)")
}
