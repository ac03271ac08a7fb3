package packager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPlanFilename is used when no plan path is given.
const DefaultPlanFilename = "agent-packager.yaml"

var (
	errNoArtifacts   = errors.New("plan lists no artifacts")
	errNoOutput      = errors.New("output directory is empty")
	errNoSource      = errors.New("source is empty")
	errNoDestination = errors.New("destination is empty")
)

// Plan describes one packaging run.
type Plan struct {
	// Output is the directory receiving archives and artifacts.json.
	Output string `yaml:"output"`
	// Artifacts maps artifact names to their packaging entries.
	Artifacts map[string]*Entry `yaml:"artifacts"`
}

// Entry describes a single payload.
type Entry struct {
	Source      string `yaml:"source"`
	Version     string `yaml:"version"`
	Destination string `yaml:"destination"`
	Service     string `yaml:"service,omitempty"`
	Lockfile    string `yaml:"lockfile,omitempty"`
	// Codec is zstd, gzip, lz4 or none. Empty means zstd.
	Codec string `yaml:"codec,omitempty"`
}

// LoadPlan reads a plan from YAML. Relative sources and the output directory
// are resolved against the plan's directory.
func LoadPlan(path string) (*Plan, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var plan Plan
	if err = yaml.Unmarshal(contents, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	base := filepath.Dir(path)

	if plan.Output != "" && !filepath.IsAbs(plan.Output) {
		plan.Output = filepath.Join(base, plan.Output)
	}

	for _, entry := range plan.Artifacts {
		if entry != nil && entry.Source != "" && !filepath.IsAbs(entry.Source) {
			entry.Source = filepath.Join(base, entry.Source)
		}
	}

	return &plan, nil
}

// Validate checks the plan before anything is written.
func (p *Plan) Validate() error {
	if p.Output == "" {
		return errNoOutput
	}

	if len(p.Artifacts) == 0 {
		return errNoArtifacts
	}

	for name, entry := range p.Artifacts {
		switch {
		case entry == nil || entry.Source == "":
			return fmt.Errorf("%s: %w", name, errNoSource)
		case entry.Destination == "":
			return fmt.Errorf("%s: %w", name, errNoDestination)
		}
	}

	return nil
}
