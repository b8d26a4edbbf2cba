package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chicogong/affect/pkg/compiler"
	"github.com/chicogong/affect/pkg/schemas"
)

// Manifest describes a batch in YAML:
//
//	program: thumbnails.affect
//	vars:
//	  width: "640"
//	parallel: true
//	concurrency: 8
//	timeout: 5m
//	items:
//	  - input: raw/a.mp4
//	    output: out/a.jpg
//	  - input: s3://media/b.mp4
//	    output: s3://media/thumbs/b.jpg
//	    vars: {width: "320"}
type Manifest struct {
	// Program is a path to an .affect file, relative to the manifest
	Program string `yaml:"program"`
	// Source is inline program text, used when Program is empty
	Source string `yaml:"source"`

	Vars        map[string]string `yaml:"vars"`
	Parallel    bool              `yaml:"parallel"`
	Concurrency int               `yaml:"concurrency"`
	Timeout     schemas.Duration  `yaml:"timeout"`
	Items       []ManifestItem    `yaml:"items"`

	dir string
}

// ManifestItem is one entry of a manifest. Input and Output are exposed to
// the program as $input and $output.
type ManifestItem struct {
	Input   string            `yaml:"input"`
	Output  string            `yaml:"output"`
	Vars    map[string]string `yaml:"vars"`
	Timeout *schemas.Duration `yaml:"timeout"`
}

// LoadManifestFile reads a manifest from disk
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := LoadManifest(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// LoadManifest parses a YAML manifest
func LoadManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest shape
func (m *Manifest) Validate() error {
	if m.Program == "" && m.Source == "" {
		return fmt.Errorf("manifest: one of program or source is required")
	}
	if m.Program != "" && m.Source != "" {
		return fmt.Errorf("manifest: program and source are mutually exclusive")
	}
	if m.Concurrency < 0 {
		return fmt.Errorf("manifest: concurrency must not be negative")
	}
	for i, it := range m.Items {
		if it.Input == "" {
			return fmt.Errorf("manifest: item %d: input is required", i+1)
		}
	}
	return nil
}

// ProgramSource returns the program text, reading Program when set
func (m *Manifest) ProgramSource() (string, error) {
	if m.Source != "" {
		return m.Source, nil
	}
	path := m.Program
	if !filepath.IsAbs(path) && m.dir != "" {
		path = filepath.Join(m.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read program: %w", err)
	}
	return string(data), nil
}

// Options returns run options carrying the manifest's scheduling settings
func (m *Manifest) Options() Options {
	return Options{Parallel: m.Parallel, Concurrency: m.Concurrency}
}

// Build compiles src once per manifest item. A program with several blocks
// yields several items per entry. Entries that fail to compile become
// items carrying the error, so they fail in place without stopping the
// rest.
func (m *Manifest) Build(src string) []Item {
	items := make([]Item, 0, len(m.Items))
	for _, mi := range m.Items {
		timeout := m.Timeout.Duration
		if mi.Timeout != nil {
			timeout = mi.Timeout.Duration
		}

		pipelines, err := compiler.CompileSource(src, m.vars(mi))
		if err != nil {
			items = append(items, Item{Input: mi.Input, Output: mi.Output, Err: err})
			continue
		}
		for _, ectx := range pipelines {
			it := FromContext(ectx)
			it.Timeout = timeout
			items = append(items, it)
		}
	}
	return items
}

func (m *Manifest) vars(mi ManifestItem) map[string]string {
	vars := make(map[string]string, len(m.Vars)+len(mi.Vars)+2)
	for k, v := range m.Vars {
		vars[k] = v
	}
	for k, v := range mi.Vars {
		vars[k] = v
	}
	vars["input"] = mi.Input
	if mi.Output != "" {
		vars["output"] = mi.Output
	}
	return vars
}
