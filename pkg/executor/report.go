package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mpetrovici/flowctl/pkg/schema"
)

// WriteReports persists one run under <outDir>/runs/<run-id>/: a report
// document per scenario, a run summary, and a markdown triage note. Returns
// the run directory. Run directories are append-only history; nothing in an
// existing run is ever rewritten.
func WriteReports(outDir string, report *Report) (string, error) {
	runDir := filepath.Join(outDir, "runs", report.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	for i := range report.Scenarios {
		sr := &report.Scenarios[i]
		path := filepath.Join(runDir, sr.ID+".report.yaml")
		if err := schema.WriteYAML(path, sr); err != nil {
			return "", fmt.Errorf("write scenario report %s: %w", sr.ID, err)
		}
	}

	summary := struct {
		RunID      string           `yaml:"run_id"`
		Env        string           `yaml:"env,omitempty"`
		Mode       string           `yaml:"mode"`
		StartedAt  string           `yaml:"started_at"`
		FinishedAt string           `yaml:"finished_at"`
		Summary    Summary          `yaml:"summary"`
		Scenarios  []scenarioStatus `yaml:"scenarios"`
	}{
		RunID:      report.RunID,
		Env:        report.Env,
		Mode:       report.Mode,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Summary:    report.Summary,
	}
	for _, sr := range report.Scenarios {
		summary.Scenarios = append(summary.Scenarios, scenarioStatus{ID: sr.ID, Status: sr.Status})
	}
	if err := schema.WriteYAML(filepath.Join(runDir, "summary.yaml"), summary); err != nil {
		return "", fmt.Errorf("write run summary: %w", err)
	}

	if err := os.WriteFile(filepath.Join(runDir, "triage.md"), []byte(TriageNote(report)), 0o644); err != nil {
		return "", fmt.Errorf("write triage note: %w", err)
	}
	return runDir, nil
}

type scenarioStatus struct {
	ID     string `yaml:"id"`
	Status string `yaml:"status"`
}
