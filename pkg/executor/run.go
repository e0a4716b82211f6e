// Package executor runs compiled scenario plans against live endpoints.
// Execution is sequential and fail-at-end: every step of every scenario is
// attempted (or skipped with a recorded reason) before the verdict is
// returned, so one early failure never hides the rest of the picture.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpetrovici/flowctl/pkg/registry"
	"github.com/mpetrovici/flowctl/pkg/resolve"
	"github.com/mpetrovici/flowctl/pkg/schema"
)

// Step statuses. A scenario fails iff at least one of its steps fails;
// skipped steps never fail a scenario.
const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusSkipped = "SKIPPED"
)

// Skip and failure reasons recorded on step results.
const (
	ReasonDryRun              = "dry_run"
	ReasonWhenFalse           = "when_false"
	ReasonWhenError           = "when_error"
	ReasonUnresolvedEndpoint  = "unresolved_endpoint"
	ReasonUnsupportedProtocol = "unsupported_protocol"
	ReasonMissingBaseURL      = "missing_base_url"
	ReasonTransportError      = "transport_error"
)

// DefaultTimeout bounds each HTTP call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Executor holds everything a run needs. The zero value is not usable;
// construct with the fields below and call Run.
type Executor struct {
	Registry *registry.Catalog
	Runtime  *schema.RuntimeConfig

	// Bindings and Impls back re-resolution of steps whose plan carries no
	// endpoint: bindings or the index may have changed since compile time,
	// so execution gets one more chance before skipping.
	Bindings *resolve.BindingSet
	Impls    map[schema.NodeRef][]schema.Implementation

	// Env is the environment re-resolution runs against.
	Env string

	// Execute enables live HTTP calls. Default false: dry-run, where every
	// step that would have been called is SKIPPED(dry_run) with its resolved
	// endpoint recorded. Dry-run is the safe default; calling live systems
	// is the explicit choice.
	Execute bool

	// Timeout bounds each HTTP call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Client is the HTTP client for live calls; nil means a default client.
	Client *http.Client

	// Getenv supplies environment variables for base-URL fallback; nil
	// disables the fallback. Injected rather than read globally so tests
	// control it.
	Getenv func(string) string

	Logger zerolog.Logger

	// Now and NewRunID default to time.Now and a random UUID; tests inject
	// fixed values.
	Now      func() time.Time
	NewRunID func() string
}

// StepResult records the outcome of one planned step.
type StepResult struct {
	ID         string        `yaml:"id"                 json:"id"`
	Node       string        `yaml:"node"               json:"node"`
	Endpoint   string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Status     string        `yaml:"status"             json:"status"`
	Reason     string        `yaml:"reason,omitempty"   json:"reason,omitempty"`
	Detail     string        `yaml:"detail,omitempty"   json:"detail,omitempty"`
	HTTPStatus int           `yaml:"http_status,omitempty" json:"http_status,omitempty"`
	DurationMs int64         `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	Checks     []CheckResult `yaml:"checks,omitempty"   json:"checks,omitempty"`
}

// ScenarioResult aggregates one plan's step results.
type ScenarioResult struct {
	ID     string       `yaml:"id"             json:"id"`
	Flow   string       `yaml:"flow,omitempty" json:"flow,omitempty"`
	Status string       `yaml:"status"         json:"status"`
	Steps  []StepResult `yaml:"steps"          json:"steps"`
}

// Summary is the run-level tally.
type Summary struct {
	Scenarios       int `yaml:"scenarios"        json:"scenarios"`
	ScenariosPassed int `yaml:"scenarios_passed" json:"scenarios_passed"`
	ScenariosFailed int `yaml:"scenarios_failed" json:"scenarios_failed"`
	Steps           int `yaml:"steps"            json:"steps"`
	StepsPassed     int `yaml:"steps_passed"     json:"steps_passed"`
	StepsFailed     int `yaml:"steps_failed"     json:"steps_failed"`
	StepsSkipped    int `yaml:"steps_skipped"    json:"steps_skipped"`
}

// Report is the full record of one run.
type Report struct {
	RunID      string           `yaml:"run_id"         json:"run_id"`
	Env        string           `yaml:"env,omitempty"  json:"env,omitempty"`
	Mode       string           `yaml:"mode"           json:"mode"` // "execute" or "dry-run"
	StartedAt  string           `yaml:"started_at"     json:"started_at"`
	FinishedAt string           `yaml:"finished_at"    json:"finished_at"`
	Scenarios  []ScenarioResult `yaml:"scenarios"      json:"scenarios"`
	Summary    Summary          `yaml:"summary"        json:"summary"`
}

// Failed reports whether any scenario in the run failed.
func (r *Report) Failed() bool {
	return r.Summary.ScenariosFailed > 0
}

// Run executes every plan in order and returns the full report. It never
// aborts early: a failing step fails its scenario but the run continues
// through every remaining step and scenario.
func (e *Executor) Run(ctx context.Context, plans []*schema.Plan) *Report {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	newID := e.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}

	report := &Report{
		RunID:     newID(),
		Env:       e.Env,
		Mode:      "dry-run",
		StartedAt: now().UTC().Format(time.RFC3339),
	}
	if e.Execute {
		report.Mode = "execute"
	}
	e.Logger.Debug().Str("run_id", report.RunID).Str("mode", report.Mode).
		Int("scenarios", len(plans)).Msg("run started")

	for _, plan := range plans {
		sr := ScenarioResult{ID: plan.ID, Flow: plan.Flow, Status: StatusPass}
		for i := range plan.Steps {
			res := e.runStep(ctx, &plan.Steps[i])
			sr.Steps = append(sr.Steps, res)
			if res.Status == StatusFail {
				sr.Status = StatusFail
			}
			e.Logger.Debug().Str("scenario", plan.ID).Str("step", res.ID).
				Str("status", res.Status).Str("reason", res.Reason).
				Str("endpoint", res.Endpoint).Msg("step finished")
		}
		report.Scenarios = append(report.Scenarios, sr)
	}

	report.FinishedAt = now().UTC().Format(time.RFC3339)
	report.Summary = tally(report.Scenarios)
	e.Logger.Debug().Str("run_id", report.RunID).
		Int("failed", report.Summary.ScenariosFailed).Msg("run finished")
	return report
}

// runStep walks one step through the gate sequence: endpoint resolution,
// registry lookup, the when guard, dry-run, protocol, base URL, and finally
// the HTTP call with expectation evaluation. The first gate that cannot pass
// decides the result.
func (e *Executor) runStep(ctx context.Context, ps *schema.PlannedStep) StepResult {
	res := StepResult{ID: ps.ID, Node: ps.Node}

	endpoint := ps.ResolvedID
	if endpoint == "" {
		// The plan may predate a binding or index change; resolve once more
		// before giving up.
		r := resolve.Step(&ps.Step, e.Bindings, e.Impls, e.Env)
		if !r.Resolved() {
			res.Status = StatusSkipped
			res.Reason = ReasonUnresolvedEndpoint
			res.Detail = r.Method
			return res
		}
		e.Logger.Debug().Str("step", ps.ID).Str("endpoint", r.EndpointID).
			Str("method", r.Method).Msg("endpoint resolved at run time")
		endpoint = r.EndpointID
	}
	res.Endpoint = endpoint

	ep, ok := e.Registry.Lookup(endpoint)
	if !ok {
		res.Status = StatusSkipped
		res.Reason = ReasonUnresolvedEndpoint
		res.Detail = fmt.Sprintf("endpoint %q not found in registry", endpoint)
		return res
	}

	if ps.When != "" {
		pass, err := evalWhen(ps.When, e.Env, ps.Input)
		if err != nil {
			res.Status = StatusFail
			res.Reason = ReasonWhenError
			res.Detail = err.Error()
			return res
		}
		if !pass {
			res.Status = StatusSkipped
			res.Reason = ReasonWhenFalse
			return res
		}
	}

	if !e.Execute {
		res.Status = StatusSkipped
		res.Reason = ReasonDryRun
		return res
	}

	if p := strings.ToLower(ep.Interface.Protocol); p != "" && p != "http" && p != "https" {
		res.Status = StatusSkipped
		res.Reason = ReasonUnsupportedProtocol
		res.Detail = ep.Interface.Protocol
		return res
	}

	baseURL := registry.BaseURL(ep.Module.ID, e.Runtime, e.Getenv)
	if baseURL == "" {
		res.Status = StatusSkipped
		res.Reason = ReasonMissingBaseURL
		res.Detail = fmt.Sprintf("set %s or add a runtime config entry for module %q",
			registry.BaseURLEnvVar(ep.Module.ID), ep.Module.ID)
		return res
	}

	status, body, elapsed, err := e.call(ctx, baseURL+registry.CallPath(ep.Interface), ps.Input)
	res.DurationMs = elapsed.Milliseconds()
	if err != nil {
		res.Status = StatusFail
		res.Reason = ReasonTransportError
		res.Detail = err.Error()
		return res
	}
	res.HTTPStatus = status

	verdict := Evaluate(ps.Expect, status, body)
	res.Checks = verdict.Checks
	if verdict.Ok {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Reason = verdict.Reason
	}
	return res
}

// call POSTs the step input as JSON and returns status, body, and duration.
func (e *Executor) call(ctx context.Context, url string, input map[string]any) (int, []byte, time.Duration, error) {
	payload := []byte("{}")
	if len(input) > 0 {
		var err error
		if payload, err = json.Marshal(input); err != nil {
			return 0, nil, 0, fmt.Errorf("encode input: %w", err)
		}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, nil, elapsed, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, elapsed, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, elapsed, nil
}

// evalWhen evaluates a step guard. The expression sees the current
// environment name as `env` and the step input as `input`.
func evalWhen(code, env string, input map[string]any) (bool, error) {
	program, err := expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile when %q: %w", code, err)
	}
	out, err := expr.Run(program, map[string]any{
		"env":   env,
		"input": input,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate when %q: %w", code, err)
	}
	pass, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("when %q did not evaluate to a boolean", code)
	}
	return pass, nil
}

func tally(scenarios []ScenarioResult) Summary {
	var s Summary
	s.Scenarios = len(scenarios)
	for _, sc := range scenarios {
		if sc.Status == StatusFail {
			s.ScenariosFailed++
		} else {
			s.ScenariosPassed++
		}
		for _, st := range sc.Steps {
			s.Steps++
			switch st.Status {
			case StatusPass:
				s.StepsPassed++
			case StatusFail:
				s.StepsFailed++
			case StatusSkipped:
				s.StepsSkipped++
			}
		}
	}
	return s
}
