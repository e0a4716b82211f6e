package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpetrovici/flowctl/pkg/registry"
	"github.com/mpetrovici/flowctl/pkg/resolve"
	"github.com/mpetrovici/flowctl/pkg/schema"
)

func testCatalog() *registry.Catalog {
	return registry.NewCatalog(&schema.Registry{Modules: []schema.Module{
		{ID: "svc", Interfaces: []schema.Interface{
			{ID: "create", Protocol: "http", Path: "/v1/create"},
		}},
		{ID: "mailer", Interfaces: []schema.Interface{
			{ID: "send", Protocol: "http"},
		}},
		{ID: "legacy", Interfaces: []schema.Interface{
			{ID: "enqueue", Protocol: "amqp"},
		}},
	}})
}

func newExecutor(execute bool, baseURLs map[string]string) *Executor {
	return &Executor{
		Registry: testCatalog(),
		Runtime:  &schema.RuntimeConfig{BaseURLs: baseURLs},
		Bindings: resolve.NewBindingSet(nil),
		Impls:    map[schema.NodeRef][]schema.Implementation{},
		Env:      "dev",
		Execute:  execute,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) },
		NewRunID: func() string { return "run-test" },
	}
}

func planWith(steps ...schema.PlannedStep) *schema.Plan {
	return &schema.Plan{ID: "s1", Flow: "billing", Env: "dev", Steps: steps}
}

func planned(id, node, endpoint string) schema.PlannedStep {
	return schema.PlannedStep{
		Step:       schema.Step{ID: id, Flow: "billing", Node: node},
		ResolvedID: endpoint,
		Resolution: resolve.MethodSingleImpl,
	}
}

func TestDryRunSkipsWithResolvedEndpoint(t *testing.T) {
	e := newExecutor(false, nil)
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "svc:create")),
	})

	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonDryRun {
		t.Fatalf("dry-run step = %s/%s", st.Status, st.Reason)
	}
	if st.Endpoint != "svc:create" {
		t.Errorf("dry-run must record the endpoint it would have called, got %q", st.Endpoint)
	}
	if report.Failed() {
		t.Error("a fully skipped run must not count as failed")
	}
	if report.Mode != "dry-run" {
		t.Errorf("mode = %q", report.Mode)
	}
}

func TestUnresolvedStepReResolvesAtRunTime(t *testing.T) {
	e := newExecutor(false, nil)
	// The plan carries no endpoint, but the index now has exactly one
	// implementation for the node.
	e.Impls[schema.NodeRef{Flow: "billing", Node: "send"}] = []schema.Implementation{
		{EndpointID: "mailer:send", ModuleID: "mailer", InterfaceID: "send", Protocol: "http"},
	}
	ps := schema.PlannedStep{
		Step:       schema.Step{ID: "a", Flow: "billing", Node: "send"},
		Resolution: resolve.MethodAmbiguous,
	}
	report := e.Run(context.Background(), []*schema.Plan{planWith(ps)})

	st := report.Scenarios[0].Steps[0]
	if st.Endpoint != "mailer:send" || st.Reason != ReasonDryRun {
		t.Fatalf("re-resolution step = %+v", st)
	}
}

func TestUnresolvedStepSkipsWithMethodDetail(t *testing.T) {
	e := newExecutor(true, nil)
	ps := schema.PlannedStep{
		Step:       schema.Step{ID: "a", Flow: "billing", Node: "send"},
		Resolution: resolve.MethodAmbiguous,
	}
	report := e.Run(context.Background(), []*schema.Plan{planWith(ps)})

	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonUnresolvedEndpoint {
		t.Fatalf("unresolved step = %s/%s", st.Status, st.Reason)
	}
	if st.Detail != resolve.MethodAmbiguous {
		t.Errorf("detail should carry the resolution method, got %q", st.Detail)
	}
	if report.Failed() {
		t.Error("skipped steps must not fail the scenario")
	}
}

func TestEndpointMissingFromRegistrySkips(t *testing.T) {
	e := newExecutor(true, nil)
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "ghost:create")),
	})
	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonUnresolvedEndpoint {
		t.Fatalf("registry-miss step = %s/%s", st.Status, st.Reason)
	}
}

func TestWhenGuard(t *testing.T) {
	e := newExecutor(true, nil)

	skip := planned("a", "create", "svc:create")
	skip.When = `env == "prod"`
	run := planned("b", "create", "svc:create")
	run.When = `env == "dev"`
	bad := planned("c", "create", "svc:create")
	bad.When = `1 +`

	report := e.Run(context.Background(), []*schema.Plan{planWith(skip, run, bad)})
	steps := report.Scenarios[0].Steps

	if steps[0].Status != StatusSkipped || steps[0].Reason != ReasonWhenFalse {
		t.Errorf("false guard = %s/%s", steps[0].Status, steps[0].Reason)
	}
	// The true guard proceeds past the gate and then skips on the missing
	// base URL, not on the guard.
	if steps[1].Reason != ReasonMissingBaseURL {
		t.Errorf("true guard should reach base-URL resolution, got %s/%s", steps[1].Status, steps[1].Reason)
	}
	if steps[2].Status != StatusFail || steps[2].Reason != ReasonWhenError {
		t.Errorf("broken guard = %s/%s", steps[2].Status, steps[2].Reason)
	}
}

func TestWhenGuardSeesInput(t *testing.T) {
	e := newExecutor(false, nil)
	ps := planned("a", "create", "svc:create")
	ps.When = `input.amount > 10`
	ps.Input = map[string]any{"amount": 5}
	report := e.Run(context.Background(), []*schema.Plan{planWith(ps)})

	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonWhenFalse {
		t.Fatalf("input guard = %s/%s", st.Status, st.Reason)
	}
}

func TestUnsupportedProtocolSkips(t *testing.T) {
	e := newExecutor(true, map[string]string{"legacy": "http://localhost:9"})
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "enqueue", "legacy:enqueue")),
	})
	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonUnsupportedProtocol || st.Detail != "amqp" {
		t.Fatalf("non-http step = %+v", st)
	}
}

func TestMissingBaseURLNamesTheEnvVar(t *testing.T) {
	e := newExecutor(true, nil)
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "svc:create")),
	})
	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusSkipped || st.Reason != ReasonMissingBaseURL {
		t.Fatalf("no-base-url step = %s/%s", st.Status, st.Reason)
	}
	if !strings.Contains(st.Detail, "FLOWCTL_ENDPOINT_SVC") {
		t.Errorf("detail should name the env var, got %q", st.Detail)
	}
}

func TestBaseURLEnvFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := newExecutor(true, nil)
	e.Getenv = func(key string) string {
		if key == "FLOWCTL_ENDPOINT_SVC" {
			return srv.URL
		}
		return ""
	}
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "svc:create")),
	})
	if st := report.Scenarios[0].Steps[0]; st.Status != StatusPass {
		t.Fatalf("env-fallback step = %+v", st)
	}
}

func TestExecutePostsInputAndChecksExpectation(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"invoice":{"id":"inv-1","total":42},"warnings":[]}`))
	}))
	defer srv.Close()

	ps := planned("a", "create", "svc:create")
	ps.Input = map[string]any{"customer": "acme"}
	ps.Expect = &schema.Expectation{
		Status:         201,
		BodyContains:   []string{"inv-1"},
		JSONContains:   map[string]any{"invoice": map[string]any{"id": "inv-1"}},
		JSONPathExists: []string{"invoice.total"},
		JSONPathEquals: map[string]any{"invoice.total": 42},
	}

	e := newExecutor(true, map[string]string{"svc": srv.URL})
	report := e.Run(context.Background(), []*schema.Plan{planWith(ps)})

	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusPass {
		t.Fatalf("step = %+v", st)
	}
	if gotPath != "/v1/create" {
		t.Errorf("called path %q, want the registry path", gotPath)
	}
	if gotBody["customer"] != "acme" {
		t.Errorf("posted body = %v", gotBody)
	}
	if st.HTTPStatus != 201 || len(st.Checks) != 5 {
		t.Errorf("audit trail: status=%d checks=%d", st.HTTPStatus, len(st.Checks))
	}
}

func TestJSONPathMismatchFailsWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"queued"}`))
	}))
	defer srv.Close()

	ps := planned("a", "create", "svc:create")
	ps.Expect = &schema.Expectation{
		JSONPathEquals: map[string]any{"state": "sent"},
	}

	e := newExecutor(true, map[string]string{"svc": srv.URL})
	report := e.Run(context.Background(), []*schema.Plan{planWith(ps)})

	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusFail || st.Reason != "expect_json_path_equals" {
		t.Fatalf("mismatch step = %s/%s", st.Status, st.Reason)
	}
	if !report.Failed() {
		t.Error("a failing step must fail the run")
	}
	found := false
	for _, c := range st.Checks {
		if c.Type == "json_path_equals" && !c.Ok && c.Expected == `"sent"` && c.Actual == `"queued"` {
			found = true
		}
	}
	if !found {
		t.Errorf("audit trail missing the failing check: %+v", st.Checks)
	}
}

func TestTransportErrorFailsStep(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := newExecutor(true, map[string]string{"svc": url})
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "svc:create")),
	})
	st := report.Scenarios[0].Steps[0]
	if st.Status != StatusFail || st.Reason != ReasonTransportError {
		t.Fatalf("transport step = %s/%s", st.Status, st.Reason)
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newExecutor(true, map[string]string{"svc": srv.URL, "mailer": srv.URL})
	plans := []*schema.Plan{
		planWith(planned("a", "create", "svc:create"), planned("b", "send", "mailer:send")),
		{ID: "s2", Flow: "billing", Steps: []schema.PlannedStep{planned("a", "create", "svc:create")}},
	}
	report := e.Run(context.Background(), plans)

	if got := report.Summary; got.Steps != 3 || got.StepsFailed != 3 || got.ScenariosFailed != 2 {
		t.Fatalf("summary = %+v, run must attempt every step", got)
	}
	for _, sc := range report.Scenarios {
		if sc.Status != StatusFail {
			t.Errorf("scenario %s = %s", sc.ID, sc.Status)
		}
	}
}

func TestWriteReports(t *testing.T) {
	e := newExecutor(false, nil)
	report := e.Run(context.Background(), []*schema.Plan{
		planWith(planned("a", "create", "svc:create")),
	})

	dir := t.TempDir()
	runDir, err := WriteReports(dir, report)
	if err != nil {
		t.Fatal(err)
	}
	if runDir != filepath.Join(dir, "runs", "run-test") {
		t.Errorf("run directory = %q", runDir)
	}
	for _, name := range []string{"s1.report.yaml", "summary.yaml", "triage.md"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}
}

func TestTriageNoteListsFailures(t *testing.T) {
	report := &Report{
		RunID: "run-test",
		Mode:  "execute",
		Scenarios: []ScenarioResult{{
			ID: "s1", Status: StatusFail,
			Steps: []StepResult{
				{ID: "a", Status: StatusPass},
				{ID: "b", Status: StatusFail, Reason: "expect_status", Endpoint: "svc:create",
					Checks: []CheckResult{{Type: "status", Expected: "200", Actual: "500"}}},
				{ID: "c", Status: StatusSkipped, Reason: ReasonDryRun},
			},
		}},
	}
	report.Summary = tally(report.Scenarios)

	note := TriageNote(report)
	for _, want := range []string{"| s1 | b | svc:create | expect_status |", "expected 200, got 500", "dry_run: 1 step(s)"} {
		if !strings.Contains(note, want) {
			t.Errorf("triage note missing %q:\n%s", want, note)
		}
	}

	clean := &Report{RunID: "r", Mode: "dry-run"}
	if !strings.Contains(TriageNote(clean), "No failures.") {
		t.Error("clean run should say so")
	}
}
