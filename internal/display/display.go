// Package display provides human-readable names for Report Portal codes.
//
// Code is for machines, words are for humans: use these in CLI tables and
// logs, keep raw locators in requests and comparisons.
package display

import (
	"strings"

	"rpreport/internal/rp"
)

// Defects maps defect type locators (pb001) to their names.
type Defects map[string]string

// Built-in defect types every project starts with.
var defaultDefects = Defects{
	"pb001": "Product Bug",
	"ab001": "Automation Bug",
	"si001": "System Issue",
	"nd001": "No Defect",
	"ti001": "To Investigate",
}

// DefaultDefects returns a copy of the built-in defect types.
func DefaultDefects() Defects {
	d := make(Defects, len(defaultDefects))
	for k, v := range defaultDefects {
		d[k] = v
	}
	return d
}

// FromSettings overlays a project's configured defect types on the
// built-in ones.
func FromSettings(s *rp.ProjectSettingsResource) Defects {
	d := DefaultDefects()
	if s == nil {
		return d
	}
	for _, group := range s.SubTypes {
		for _, st := range group {
			if st.Locator != "" && st.LongName != "" {
				d[strings.ToLower(st.Locator)] = st.LongName
			}
		}
	}
	return d
}

// Name returns the name for a locator. Unknown locators are returned as-is.
func (d Defects) Name(code string) string {
	if name, ok := d[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// WithCode returns "Product Bug (pb001)", or the bare code when unknown.
func (d Defects) WithCode(code string) string {
	if name, ok := d[strings.ToLower(code)]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// DefectType names a built-in locator.
func DefectType(code string) string { return defaultDefects.Name(code) }

// DefectTypeWithCode is WithCode over the built-in locators.
func DefectTypeWithCode(code string) string { return defaultDefects.WithCode(code) }
