package executor

import (
	"fmt"
	"strings"
)

// TriageNote renders a markdown summary of the run aimed at whoever picks
// up the failures: one table row per failing step identifying the scenario,
// step, endpoint, and reason, followed by skip counts. Always generated, so
// a green run leaves a record too.
func TriageNote(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", report.RunID)
	fmt.Fprintf(&b, "- Mode: %s\n", report.Mode)
	if report.Env != "" {
		fmt.Fprintf(&b, "- Environment: %s\n", report.Env)
	}
	fmt.Fprintf(&b, "- Scenarios: %d passed, %d failed of %d\n",
		report.Summary.ScenariosPassed, report.Summary.ScenariosFailed, report.Summary.Scenarios)
	fmt.Fprintf(&b, "- Steps: %d passed, %d failed, %d skipped\n\n",
		report.Summary.StepsPassed, report.Summary.StepsFailed, report.Summary.StepsSkipped)

	var failures []StepResult
	failedIn := make(map[int]string)
	for _, sc := range report.Scenarios {
		for _, st := range sc.Steps {
			if st.Status == StatusFail {
				failedIn[len(failures)] = sc.ID
				failures = append(failures, st)
			}
		}
	}

	if len(failures) == 0 {
		b.WriteString("No failures.\n")
	} else {
		b.WriteString("## Failures\n\n")
		b.WriteString("| Scenario | Step | Endpoint | Reason | Detail |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for i, st := range failures {
			detail := st.Detail
			if detail == "" {
				detail = firstFailingCheck(st.Checks)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				failedIn[i], st.ID, orDash(st.Endpoint), st.Reason, orDash(detail))
		}
	}

	skips := skipTally(report)
	if len(skips) > 0 {
		b.WriteString("\n## Skips\n\n")
		for _, line := range skips {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String()
}

// firstFailingCheck summarizes the check that broke a step, for the table's
// detail column.
func firstFailingCheck(checks []CheckResult) string {
	for _, c := range checks {
		if !c.Ok {
			switch {
			case c.Target != "" && c.Expected != "":
				return fmt.Sprintf("%s: expected %s, got %s", c.Target, c.Expected, c.Actual)
			case c.Target != "":
				return c.Target
			default:
				return fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual)
			}
		}
	}
	return ""
}

func skipTally(report *Report) []string {
	counts := make(map[string]int)
	var order []string
	for _, sc := range report.Scenarios {
		for _, st := range sc.Steps {
			if st.Status != StatusSkipped {
				continue
			}
			if counts[st.Reason] == 0 {
				order = append(order, st.Reason)
			}
			counts[st.Reason]++
		}
	}
	lines := make([]string, 0, len(order))
	for _, reason := range order {
		lines = append(lines, fmt.Sprintf("%s: %d step(s)", reason, counts[reason]))
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
