// Package compile turns validated scenarios into environment-specific
// execution plans. Plans are derived artifacts: one document per scenario
// plus an index of compiled scenario ids, regenerated per compile with
// stale output cleared first.
package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mpetrovici/flowctl/pkg/resolve"
	"github.com/mpetrovici/flowctl/pkg/schema"
)

// Options controls one compile invocation.
type Options struct {
	// Env is the target environment baked into the plans.
	Env string

	// KeepStale leaves previously compiled plans for scenarios that no
	// longer exist. Default is to clear the output directory's plans so the
	// directory always mirrors the current scenario set.
	KeepStale bool

	// Now supplies the compilation timestamp; defaults to time.Now. Tests
	// inject a fixed clock.
	Now func() time.Time
}

// Scenario compiles one scenario against the bindings and implementation
// index. Every step gets a resolution-method tag, explicit steps included,
// so a failing run can always be traced back to how its endpoint was (or
// was not) chosen.
func Scenario(sc *schema.Scenario, bindings *resolve.BindingSet, impls map[schema.NodeRef][]schema.Implementation, opts Options) *schema.Plan {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	plan := &schema.Plan{
		ID:         sc.ID,
		Flow:       sc.Flow,
		CompiledAt: now().UTC().Format(time.RFC3339),
		Env:        opts.Env,
	}
	for i := range sc.Steps {
		step := sc.Steps[i]
		res := resolve.Step(&step, bindings, impls, opts.Env)
		plan.Steps = append(plan.Steps, schema.PlannedStep{
			Step:       step,
			ResolvedID: res.EndpointID,
			BindingID:  res.BindingID,
			Resolution: res.Method,
		})
	}
	return plan
}

// All compiles every scenario and writes the plan documents plus the plan
// index under outDir. Returns the compiled plans in input order.
func All(scenarios []*schema.Scenario, bindings *resolve.BindingSet, impls map[schema.NodeRef][]schema.Implementation, outDir string, opts Options) ([]*schema.Plan, error) {
	if !opts.KeepStale {
		if err := clearPlans(outDir); err != nil {
			return nil, err
		}
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	index := &schema.PlanIndex{
		CompiledAt: now().UTC().Format(time.RFC3339),
		Env:        opts.Env,
	}

	var plans []*schema.Plan
	for _, sc := range scenarios {
		plan := Scenario(sc, bindings, impls, opts)
		path := filepath.Join(outDir, plan.ID+".plan.yaml")
		if err := schema.WriteYAML(path, plan); err != nil {
			return nil, fmt.Errorf("write plan %s: %w", plan.ID, err)
		}
		plans = append(plans, plan)
		index.Scenarios = append(index.Scenarios, plan.ID)
	}

	if err := schema.WriteYAML(filepath.Join(outDir, "index.yaml"), index); err != nil {
		return nil, fmt.Errorf("write plan index: %w", err)
	}
	return plans, nil
}

// clearPlans removes previously generated *.plan.yaml files. Anything else
// in the directory is left alone.
func clearPlans(outDir string) error {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plan directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".plan.yaml") {
			continue
		}
		if err := os.Remove(filepath.Join(outDir, e.Name())); err != nil {
			return fmt.Errorf("clear stale plan: %w", err)
		}
	}
	return nil
}
