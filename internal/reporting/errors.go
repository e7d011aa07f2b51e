package reporting

import (
	"fmt"
	"strings"
)

// IllegalStateError is returned when an operation is not valid for the
// current launch or item state. It is detected locally; no request is sent.
type IllegalStateError struct {
	Entity string // "launch" or "item"
	ID     string
	State  string
	Want   string
}

func (e *IllegalStateError) Error() string {
	subject := e.Entity
	if e.ID != "" {
		subject = fmt.Sprintf("%s %q", e.Entity, e.ID)
	}
	if e.Want == "" {
		return fmt.Sprintf("%s is %s", subject, e.State)
	}
	return fmt.Sprintf("%s is %s, want %s", subject, e.State, e.Want)
}

// ReportingError wraps a session failure with the context needed to
// diagnose it. The underlying rp error stays reachable through errors.As.
type ReportingError struct {
	Op      string
	Launch  string
	Item    string
	Path    []string
	Segment string
	Err     error
}

func (e *ReportingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Launch != "" {
		fmt.Fprintf(&b, ": launch %s", e.Launch)
	}
	if e.Item != "" {
		fmt.Fprintf(&b, ": item %s", e.Item)
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, ": path %s", strings.Join(e.Path, " > "))
	}
	if e.Segment != "" {
		fmt.Fprintf(&b, ": segment %q", e.Segment)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ReportingError) Unwrap() error { return e.Err }
