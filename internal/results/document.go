// Package results reads a test-results document and replays it into a
// reporting session, the way a test-framework listener would report live.
package results

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is one launch worth of results.
type Document struct {
	Launch Launch  `yaml:"launch"`
	Suites []Suite `yaml:"suites"`

	// Dir resolves relative attachment paths. Set by LoadFile.
	Dir string `yaml:"-"`
}

// Launch describes the launch the document is reported into.
type Launch struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Attributes  map[string]string `yaml:"attributes"`
	Mode        string            `yaml:"mode"`
	Rerun       bool              `yaml:"rerun"`
	StartTime   time.Time         `yaml:"start_time"`
	EndTime     time.Time         `yaml:"end_time"`
	Status      string            `yaml:"status"`
}

// Suite groups tests under a dotted long name such as "Root.Login".
type Suite struct {
	Name  string `yaml:"name"`
	Tests []Test `yaml:"tests"`
}

// Test is a test case or, nested under Steps, a keyword or step.
type Test struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Description string            `yaml:"description"`
	Attributes  map[string]string `yaml:"attributes"`
	Parameters  map[string]string `yaml:"parameters"`
	CodeRef     string            `yaml:"code_ref"`
	TestCaseID  string            `yaml:"test_case_id"`
	Status      string            `yaml:"status"`
	StartTime   time.Time         `yaml:"start_time"`
	EndTime     time.Time         `yaml:"end_time"`
	Issue       *Issue            `yaml:"issue"`
	Logs        []Log             `yaml:"logs"`
	Steps       []Test            `yaml:"steps"`
}

// Issue marks a failed test with a defect type.
type Issue struct {
	Type    string `yaml:"type"`
	Comment string `yaml:"comment"`
}

// Log is one message, optionally carrying a file.
type Log struct {
	Time       time.Time `yaml:"time"`
	Level      string    `yaml:"level"`
	Message    string    `yaml:"message"`
	Attachment string    `yaml:"attachment"`
}

// LoadFile reads a results document (YAML or JSON) from path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Dir = filepath.Dir(path)
	return doc, nil
}

// Parse decodes and validates a results document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse results: empty document")
		}
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks names are present throughout the tree.
func (d *Document) Validate() error {
	if d.Launch.Name == "" {
		return errors.New("results: launch.name is required")
	}
	for i, s := range d.Suites {
		if s.Name == "" {
			return fmt.Errorf("results: suites[%d].name is required", i)
		}
		for j := range s.Tests {
			if err := validateTest(&s.Tests[j], fmt.Sprintf("suites[%d].tests[%d]", i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTest(t *Test, at string) error {
	if t.Name == "" {
		return fmt.Errorf("results: %s.name is required", at)
	}
	for i := range t.Steps {
		if err := validateTest(&t.Steps[i], fmt.Sprintf("%s.steps[%d]", at, i)); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of tests, not counting steps.
func (d *Document) Count() int {
	n := 0
	for _, s := range d.Suites {
		n += len(s.Tests)
	}
	return n
}
