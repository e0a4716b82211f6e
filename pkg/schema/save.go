package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteYAML marshals a derived artifact to YAML and writes it via a
// temp-file rename so a crashed run never leaves a half-written document.
func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// WriteJSON writes a derived artifact as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFlowDir loads every *.flow.yaml under dir, sorted by file name.
func LoadFlowDir(dir string) ([]*Flow, error) {
	paths, err := globDocs(dir, ".flow.yaml", ".flow.yml")
	if err != nil {
		return nil, err
	}
	var flows []*Flow
	for _, p := range paths {
		f, err := LoadFlowFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// LoadBindingDir loads every *.binding.yaml under dir, sorted by file name.
func LoadBindingDir(dir string) ([]*Binding, error) {
	paths, err := globDocs(dir, ".binding.yaml", ".binding.yml")
	if err != nil {
		return nil, err
	}
	var bindings []*Binding
	for _, p := range paths {
		b, err := LoadBindingFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// LoadScenarioDir loads every *.scenario.yaml under dir as a raw document
// map. Scenario files tolerate historical field spellings, so they decode
// leniently here and go through the normalizer before validation.
func LoadScenarioDir(dir string) ([]RawScenario, error) {
	paths, err := globDocs(dir, ".scenario.yaml", ".scenario.yml")
	if err != nil {
		return nil, err
	}
	var raws []RawScenario
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", p, err)
		}
		raws = append(raws, RawScenario{Path: p, Doc: doc})
	}
	return raws, nil
}

// RawScenario pairs a lenient scenario document with its source path.
type RawScenario struct {
	Path string
	Doc  map[string]any
}

// globDocs lists files under dir matching any of the suffixes, sorted so
// load order (and therefore report order) is stable across platforms.
func globDocs(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, suf := range suffixes {
			if strings.HasSuffix(e.Name(), suf) {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
