// Package registry loads suite descriptors: which test classes and methods a
// run covers.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-harness/spi"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// SuiteFile is the on-disk layout of a suite descriptor.
type SuiteFile struct {
	Suites []SuiteConfig `yaml:"suites"`
}

// SuiteConfig is one suite of a suite file
type SuiteConfig struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description,omitempty"`
	Classes     []ClassConfig `yaml:"classes"`
}

// ClassConfig selects methods of one class. No methods means every method.
type ClassConfig struct {
	Name    string   `yaml:"name"`
	Methods []string `yaml:"methods,omitempty"`
}

// Entry is one method to run, tagged with the suite that selected it.
type Entry struct {
	Suite string
	types.TestMethodDescriptor
}

// Registry holds the expanded suites.
type Registry struct {
	config  Config
	entries []Entry
	classes []string
	mu      sync.RWMutex
}

// Config holds the configuration for the registry
type Config struct {
	Log       log.Logger
	SuiteFile string
	Loader    spi.Loader // Expands classes listed without methods; required
	SuiteID   string     // Restricts the registry to one suite when set
}

// NewRegistry loads and expands the suite file
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.SuiteFile == "" {
		return nil, fmt.Errorf("suite file is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	file, err := loadSuiteFile(cfg.SuiteFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load suites: %w", err)
	}
	r := &Registry{config: cfg}
	if err := r.expand(file); err != nil {
		return nil, err
	}
	cfg.Log.Debug("registry loaded", "suites", len(file.Suites), "methods", len(r.entries))
	return r, nil
}

// FromClasses builds a registry running every method of every class the
// loader knows, in a single suite.
func FromClasses(loader spi.Loader, suiteID string, classes ...string) (*Registry, error) {
	file := &SuiteFile{Suites: []SuiteConfig{{ID: suiteID}}}
	for _, c := range classes {
		file.Suites[0].Classes = append(file.Suites[0].Classes, ClassConfig{Name: c})
	}
	r := &Registry{config: Config{Loader: loader, Log: log.Root()}}
	if err := r.expand(file); err != nil {
		return nil, err
	}
	return r, nil
}

func loadSuiteFile(path string) (*SuiteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}
	var file SuiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing suite file: %w", err)
	}
	return &file, nil
}

func (r *Registry) expand(file *SuiteFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seenSuites := make(map[string]bool)
	seenClasses := make(map[string]bool)
	found := r.config.SuiteID == ""
	for _, suite := range file.Suites {
		if suite.ID == "" {
			return fmt.Errorf("suite without an id")
		}
		if seenSuites[suite.ID] {
			return fmt.Errorf("duplicate suite %s", suite.ID)
		}
		seenSuites[suite.ID] = true
		if r.config.SuiteID != "" && suite.ID != r.config.SuiteID {
			continue
		}
		found = true

		for _, cc := range suite.Classes {
			methods, err := r.methodsOf(cc)
			if err != nil {
				return fmt.Errorf("suite %s: %w", suite.ID, err)
			}
			if !seenClasses[cc.Name] {
				seenClasses[cc.Name] = true
				r.classes = append(r.classes, cc.Name)
			}
			for _, m := range methods {
				r.entries = append(r.entries, Entry{
					Suite:                suite.ID,
					TestMethodDescriptor: types.TestMethodDescriptor{ClassName: cc.Name, MethodName: m},
				})
			}
		}
	}
	if !found {
		return fmt.Errorf("suite %s not found", r.config.SuiteID)
	}
	return nil
}

func (r *Registry) methodsOf(cc ClassConfig) ([]string, error) {
	if cc.Name == "" {
		return nil, fmt.Errorf("class without a name")
	}
	class, err := r.config.Loader.LoadTestClass(cc.Name)
	if err != nil {
		return nil, err
	}
	if len(cc.Methods) == 0 {
		return class.MethodNames(), nil
	}
	methods := append([]string(nil), cc.Methods...)
	sort.Strings(methods)
	for _, m := range methods {
		if _, ok := class.Methods[m]; !ok {
			return nil, &spi.NoSuchMethodError{Class: cc.Name, Method: m}
		}
	}
	return methods, nil
}

// Entries returns the methods to run in suite order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Classes returns the distinct classes in first-seen order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.classes...)
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}
