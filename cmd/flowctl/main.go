package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mpetrovici/flowctl/pkg/compile"
	"github.com/mpetrovici/flowctl/pkg/executor"
	"github.com/mpetrovici/flowctl/pkg/implindex"
	"github.com/mpetrovici/flowctl/pkg/registry"
	"github.com/mpetrovici/flowctl/pkg/resolve"
	"github.com/mpetrovici/flowctl/pkg/scenario"
	"github.com/mpetrovici/flowctl/pkg/schema"
	"github.com/mpetrovici/flowctl/pkg/validate"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are KEY=VALUE
// (or KEY="VALUE"). Comments (#) and blanks are skipped. The .env file is
// gitignored so endpoint URLs for private environments never end up in
// source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Don't overwrite existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Business flow model toolkit",
	Long:  "flowctl — validate flow models, build the implementation index, resolve bindings, and compile and run scenarios against live endpoints.",
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	skipStyle = lipgloss.NewStyle().Faint(true)
)

// --- shared loading ---

// modelInputs bundles the documents most commands work over.
type modelInputs struct {
	Flows     []*schema.Flow
	Bindings  []*schema.Binding
	Scenarios []*schema.Scenario
	Index     *schema.Index
	Problems  []*validate.ValidationError // structural problems from normalization
}

func loadModel(flowsDir, bindingsDir, scenariosDir, indexPath string) (*modelInputs, error) {
	in := &modelInputs{}

	var err error
	if in.Flows, err = schema.LoadFlowDir(flowsDir); err != nil {
		return nil, err
	}
	if bindingsDir != "" {
		if in.Bindings, err = schema.LoadBindingDir(bindingsDir); err != nil {
			return nil, err
		}
	}
	if scenariosDir != "" {
		raws, err := schema.LoadScenarioDir(scenariosDir)
		if err != nil {
			return nil, err
		}
		in.Scenarios, in.Problems = scenario.NormalizeAll(raws)
	}
	if indexPath != "" {
		if in.Index, err = schema.LoadIndexFile(indexPath); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// reportIssues prints warnings and errors the way every command does:
// warnings to stderr with ⚠, then a numbered error list. Returns the number
// of errors.
func reportIssues(issues []*validate.ValidationError) int {
	errors, warnings := validate.Split(issues)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
	if len(errors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
		for i, e := range errors {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
	}
	return len(errors)
}

// --- validate ---

var (
	validateFlows     string
	validateBindings  string
	validateScenarios string
	validateIndex     string
	validateEnv       string
	validateStrict    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate flows, bindings, and scenarios",
	Long: `Run the full validation pipeline over the model directories:
structural (strict parse and normalization), semantic (generated JSON
Schema), and domain (graph integrity, binding freshness, scenario paths,
resolvability).

Warnings go to stderr and never fail the command unless --strict is set,
which promotes unresolved-step warnings to errors for steps that do not
allow unresolved endpoints.`,
	RunE: runValidateCmd,
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	in, err := loadModel(validateFlows, validateBindings, validateScenarios, validateIndex)
	if err != nil {
		return err
	}

	issues := append([]*validate.ValidationError{}, in.Problems...)
	issues = append(issues, validate.Run(&validate.Inputs{
		Flows:     in.Flows,
		Bindings:  in.Bindings,
		Scenarios: in.Scenarios,
		Index:     in.Index,
		Env:       validateEnv,
		Strict:    validateStrict,
	})...)

	if n := reportIssues(issues); n > 0 {
		return fmt.Errorf("validation failed with %d error(s)", n)
	}
	fmt.Printf("✓ %d flow(s), %d binding(s), %d scenario(s) valid\n",
		len(in.Flows), len(in.Bindings), len(in.Scenarios))
	return nil
}

// --- index ---

var (
	indexFlows    string
	indexRegistry string
	indexOut      string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the implementation index from the module registry",
	Long: `Scan the module registry for interfaces declaring flow-node
implementations and regenerate the implementation index. The index is a
derived artifact: it is rebuilt wholesale, never edited, and identical
inputs produce byte-identical output.`,
	RunE: runIndexCmd,
}

func runIndexCmd(cmd *cobra.Command, args []string) error {
	flows, err := schema.LoadFlowDir(indexFlows)
	if err != nil {
		return err
	}
	reg, err := schema.LoadRegistryFile(indexRegistry)
	if err != nil {
		return err
	}

	ix, issues := implindex.Build(flows, reg)
	if n := reportIssues(issues); n > 0 {
		return fmt.Errorf("index build failed with %d error(s)", n)
	}

	ix.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	if err := schema.WriteYAML(indexOut, ix); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	impls := 0
	for _, e := range ix.Entries {
		impls += len(e.Implementations)
	}
	fmt.Printf("✓ %s: %d node(s), %d implementation(s)\n", indexOut, len(ix.Entries), impls)
	return nil
}

// --- resolve ---

var (
	resolveBindings string
	resolveIndex    string
	resolveEnv      string
	resolveJSON     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [flow] [node]",
	Short: "Show which endpoint a flow node resolves to",
	Long: `Resolve one flow node exactly as validation, compilation, and
execution would: explicit bindings first, then the node's default binding,
then the implementation index. Prints the selected endpoint and the
resolution method.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolveCmd,
}

func runResolveCmd(cmd *cobra.Command, args []string) error {
	bindings, err := schema.LoadBindingDir(resolveBindings)
	if err != nil {
		return err
	}
	ix, err := schema.LoadIndexFile(resolveIndex)
	if err != nil {
		return err
	}

	step := &schema.Step{Flow: args[0], Node: args[1]}
	res := resolve.Step(step, resolve.NewBindingSet(bindings), ix.Map(), resolveEnv)

	if resolveJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"flow":     args[0],
			"node":     args[1],
			"env":      resolveEnv,
			"endpoint": res.EndpointID,
			"binding":  res.BindingID,
			"method":   res.Method,
		})
	}

	ref := schema.NodeRef{Flow: args[0], Node: args[1]}
	if res.Resolved() {
		fmt.Printf("✓ %s → %s (%s", ref, res.EndpointID, res.Method)
		if res.BindingID != "" {
			fmt.Printf(" via %s", res.BindingID)
		}
		fmt.Println(")")
		return nil
	}
	fmt.Printf("✗ %s does not resolve (%s)\n", ref, res.Method)
	return fmt.Errorf("unresolved")
}

// --- compile ---

var (
	compileFlows     string
	compileBindings  string
	compileScenarios string
	compileIndex     string
	compileEnv       string
	compileOut       string
	compileKeepStale bool
	compileStrict    bool
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile scenarios into environment-specific execution plans",
	Long: `Validate the model, then resolve every scenario step for the target
environment and write one plan document per scenario plus a plan index
under --out. Previously compiled plans for scenarios that no longer exist
are cleared unless --keep-stale is set.`,
	RunE: runCompileCmd,
}

func runCompileCmd(cmd *cobra.Command, args []string) error {
	in, err := loadModel(compileFlows, compileBindings, compileScenarios, compileIndex)
	if err != nil {
		return err
	}

	// Compile never emits plans from an invalid model.
	issues := append([]*validate.ValidationError{}, in.Problems...)
	issues = append(issues, validate.Run(&validate.Inputs{
		Flows:     in.Flows,
		Bindings:  in.Bindings,
		Scenarios: in.Scenarios,
		Index:     in.Index,
		Env:       compileEnv,
		Strict:    compileStrict,
	})...)
	if n := reportIssues(issues); n > 0 {
		return fmt.Errorf("compile blocked by %d validation error(s)", n)
	}

	var impls map[schema.NodeRef][]schema.Implementation
	if in.Index != nil {
		impls = in.Index.Map()
	}
	plans, err := compile.All(in.Scenarios, resolve.NewBindingSet(in.Bindings), impls, compileOut,
		compile.Options{Env: compileEnv, KeepStale: compileKeepStale})
	if err != nil {
		return err
	}

	unresolved := 0
	for _, p := range plans {
		for _, ps := range p.Steps {
			if ps.ResolvedID == "" {
				unresolved++
			}
		}
	}
	fmt.Printf("✓ compiled %d plan(s) to %s", len(plans), compileOut)
	if compileEnv != "" {
		fmt.Printf(" for env %q", compileEnv)
	}
	fmt.Println()
	if unresolved > 0 {
		fmt.Fprintf(os.Stderr, "  ⚠ %d step(s) carry no resolved endpoint and will be skipped at run time\n", unresolved)
	}
	return nil
}

// --- run ---

var (
	runPlans    string
	runRegistry string
	runRuntime  string
	runBindings string
	runIndex    string
	runEnv      string
	runExecute  bool
	runTimeout  string
	runOut      string
	runOnly     string
	runVerbose  bool
	runTriage   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run compiled scenario plans against live endpoints",
	Long: `Execute every compiled plan in --plans sequentially, fail-at-end:
one failing step fails its scenario but the run always continues through
every remaining step and scenario.

The default mode is dry-run: steps are resolved and gated but no HTTP call
is made. Pass --execute to call live endpoints. Base URLs come from the
runtime config (--runtime), falling back to FLOWCTL_ENDPOINT_<MODULE>
environment variables.

Reports land under <out>/runs/<run-id>/: one report per scenario, a run
summary, and a markdown triage note.

Exit codes:
  0 — every scenario passed (skips never fail a run)
  1 — at least one scenario failed`,
	RunE: runRunCmd,
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	plans, err := loadPlans(runPlans, runOnly)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return fmt.Errorf("no plans found in %s — run `flowctl compile` first", runPlans)
	}

	reg, err := schema.LoadRegistryFile(runRegistry)
	if err != nil {
		return err
	}
	var rc *schema.RuntimeConfig
	if runRuntime != "" {
		if rc, err = schema.LoadRuntimeConfig(runRuntime); err != nil {
			return err
		}
	}
	var bindings []*schema.Binding
	if runBindings != "" {
		if bindings, err = schema.LoadBindingDir(runBindings); err != nil {
			return err
		}
	}
	impls := map[schema.NodeRef][]schema.Implementation{}
	if runIndex != "" {
		ix, err := schema.LoadIndexFile(runIndex)
		if err != nil {
			return err
		}
		impls = ix.Map()
	}

	timeout, err := time.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout %q: %w", runTimeout, err)
	}

	logger := zerolog.Nop()
	if runVerbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	exec := &executor.Executor{
		Registry: registry.NewCatalog(reg),
		Runtime:  rc,
		Bindings: resolve.NewBindingSet(bindings),
		Impls:    impls,
		Env:      runEnv,
		Execute:  runExecute,
		Timeout:  timeout,
		Getenv:   os.Getenv,
		Logger:   logger,
	}

	report := exec.Run(context.Background(), plans)
	printRunReport(report)

	runDir, err := executor.WriteReports(runOut, report)
	if err != nil {
		return err
	}
	fmt.Printf("\n  Reports: %s\n", runDir)

	if runTriage {
		note := executor.TriageNote(report)
		if rendered, err := glamour.Render(note, "auto"); err == nil {
			fmt.Print(rendered)
		} else {
			fmt.Print(note)
		}
	}

	if report.Failed() {
		os.Exit(1)
	}
	return nil
}

// loadPlans reads every *.plan.yaml in the directory, sorted by name, and
// optionally filters to one scenario id.
func loadPlans(dir, only string) ([]*schema.Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plan directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".plan.yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var plans []*schema.Plan
	for _, name := range names {
		p, err := schema.LoadPlanFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if only != "" && p.ID != only {
			continue
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func printRunReport(report *executor.Report) {
	fmt.Printf("Run ID: %s\n", report.RunID)
	fmt.Printf("Mode: %s\n", report.Mode)
	if report.Env != "" {
		fmt.Printf("Env: %s\n", report.Env)
	}
	for _, sc := range report.Scenarios {
		fmt.Printf("\n  %s\n", sc.ID)
		for _, st := range sc.Steps {
			switch st.Status {
			case executor.StatusPass:
				fmt.Printf("    %s %-24s %s  %dms\n", passStyle.Render("✓"), st.ID, st.Endpoint, st.DurationMs)
			case executor.StatusFail:
				fmt.Printf("    %s %-24s %s (%s)\n", failStyle.Render("✗"), st.ID, st.Endpoint, st.Reason)
				if st.Detail != "" {
					fmt.Printf("        %s\n", st.Detail)
				}
				for _, c := range st.Checks {
					if !c.Ok {
						fmt.Printf("        %s %s: expected %s, got %s\n", c.Type, c.Target, c.Expected, c.Actual)
					}
				}
			case executor.StatusSkipped:
				fmt.Printf("    %s %-24s (%s)\n", skipStyle.Render("○"), st.ID, st.Reason)
			}
		}
	}
	s := report.Summary
	fmt.Printf("\n  %d scenario(s): %d passed, %d failed\n", s.Scenarios, s.ScenariosPassed, s.ScenariosFailed)
	fmt.Printf("  %d step(s): %d passed, %d failed, %d skipped\n", s.Steps, s.StepsPassed, s.StepsFailed, s.StepsSkipped)
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export [flow|binding|scenario]",
	Short: "Export a document JSON Schema to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	switch args[0] {
	case "flow":
		data, err = schema.GenerateFlowJSONSchema()
	case "binding":
		data, err = schema.GenerateBindingJSONSchema()
	case "scenario":
		data, err = schema.GenerateScenarioJSONSchema()
	default:
		return fmt.Errorf("unknown document type %q: expected flow, binding, or scenario", args[0])
	}
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(formatted))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowctl %s (build: %s)\n", version, commit)
	},
}

func init() {
	// validate flags
	validateCmd.Flags().StringVar(&validateFlows, "flows", "flows", "Directory of flow documents")
	validateCmd.Flags().StringVar(&validateBindings, "bindings", "bindings", "Directory of binding documents")
	validateCmd.Flags().StringVar(&validateScenarios, "scenarios", "scenarios", "Directory of scenario documents")
	validateCmd.Flags().StringVar(&validateIndex, "index", "index.yaml", "Implementation index file")
	validateCmd.Flags().StringVar(&validateEnv, "env", "", "Environment to resolve against")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat unresolved steps as errors")

	// index flags
	indexCmd.Flags().StringVar(&indexFlows, "flows", "flows", "Directory of flow documents")
	indexCmd.Flags().StringVar(&indexRegistry, "registry", "registry.yaml", "Module registry file")
	indexCmd.Flags().StringVar(&indexOut, "out", "index.yaml", "Output path for the implementation index")

	// resolve flags
	resolveCmd.Flags().StringVar(&resolveBindings, "bindings", "bindings", "Directory of binding documents")
	resolveCmd.Flags().StringVar(&resolveIndex, "index", "index.yaml", "Implementation index file")
	resolveCmd.Flags().StringVar(&resolveEnv, "env", "", "Environment to resolve against")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Output as JSON")

	// compile flags
	compileCmd.Flags().StringVar(&compileFlows, "flows", "flows", "Directory of flow documents")
	compileCmd.Flags().StringVar(&compileBindings, "bindings", "bindings", "Directory of binding documents")
	compileCmd.Flags().StringVar(&compileScenarios, "scenarios", "scenarios", "Directory of scenario documents")
	compileCmd.Flags().StringVar(&compileIndex, "index", "index.yaml", "Implementation index file")
	compileCmd.Flags().StringVar(&compileEnv, "env", "", "Target environment for the plans")
	compileCmd.Flags().StringVar(&compileOut, "out", "plans", "Output directory for compiled plans")
	compileCmd.Flags().BoolVar(&compileKeepStale, "keep-stale", false, "Keep plans for scenarios that no longer exist")
	compileCmd.Flags().BoolVar(&compileStrict, "strict", false, "Treat unresolved steps as errors")

	// run flags
	runCmd.Flags().StringVar(&runPlans, "plans", "plans", "Directory of compiled plans")
	runCmd.Flags().StringVar(&runRegistry, "registry", "registry.yaml", "Module registry file")
	runCmd.Flags().StringVar(&runRuntime, "runtime", "", "Runtime config mapping module ids to base URLs")
	runCmd.Flags().StringVar(&runBindings, "bindings", "", "Binding directory for run-time re-resolution")
	runCmd.Flags().StringVar(&runIndex, "index", "", "Implementation index for run-time re-resolution")
	runCmd.Flags().StringVar(&runEnv, "env", "", "Environment for run-time re-resolution")
	runCmd.Flags().BoolVar(&runExecute, "execute", false, "Call live endpoints (default is dry-run)")
	runCmd.Flags().StringVar(&runTimeout, "timeout", "30s", "Per-call HTTP timeout (e.g. 10s, 1m)")
	runCmd.Flags().StringVar(&runOut, "out", ".", "Directory to write run reports under")
	runCmd.Flags().StringVar(&runOnly, "scenario", "", "Run only the named scenario (default: all)")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Log every gate decision to stderr")
	runCmd.Flags().BoolVar(&runTriage, "triage", false, "Render the triage note to the terminal")

	// schema subcommands
	schemaCmd.AddCommand(schemaExportCmd)

	// root subcommands
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
