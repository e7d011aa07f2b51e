package reporting

import (
	"runtime"
	"sort"
	"strconv"
	"strings"

	"rpreport/internal/rp"
)

// SystemKey is the reserved map key that flags every other attribute as a
// system attribute instead of being sent itself.
const SystemKey = "system"

// AttributesFromMap converts a key/value map into key-sorted triples.
// A SystemKey entry that parses as true marks every triple as system.
func AttributesFromMap(m map[string]string) []rp.ItemAttributesRQ {
	if len(m) == 0 {
		return nil
	}
	system := false
	if v, ok := m[SystemKey]; ok {
		system, _ = strconv.ParseBool(strings.TrimSpace(v))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if k == SystemKey {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	out := make([]rp.ItemAttributesRQ, 0, len(keys))
	for _, k := range keys {
		out = append(out, rp.ItemAttributesRQ{Key: k, Value: m[k], System: system})
	}
	return out
}

// MapStatus translates runner statuses (PASS, FAIL, SKIP, NOT RUN) into
// Report Portal statuses. Values that already name an rp.Status pass
// through; anything else maps to FAILED.
func MapStatus(s string) rp.Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS", "PASSED":
		return rp.StatusPassed
	case "FAIL", "FAILED":
		return rp.StatusFailed
	case "SKIP", "SKIPPED", "NOT RUN", "NOT_RUN":
		return rp.StatusSkipped
	case "STOPPED":
		return rp.StatusStopped
	case "RESETED":
		return rp.StatusReseted
	case "CANCELLED":
		return rp.StatusCancelled
	case "":
		return ""
	}
	return rp.StatusFailed
}

// SystemInfo returns agent and platform attributes for a launch, with the
// system flag set.
func SystemInfo(agent string) map[string]string {
	if agent == "" {
		agent = "not found"
	}
	return map[string]string{
		"agent":   agent,
		"os":      runtime.GOOS,
		"machine": runtime.GOARCH,
		"cpus":    strconv.Itoa(runtime.NumCPU()),
		SystemKey: "true",
	}
}
