package format

import (
	"fmt"
	"strings"
	"time"

	"rpreport/internal/display"
	"rpreport/internal/reporting"
	"rpreport/internal/results"
	"rpreport/internal/rp"
	"rpreport/internal/store"
)

// SessionStatus renders a local session summary as a two-column table.
func SessionStatus(m Mode, name string, st reporting.Status) string {
	tb := NewTable(m)
	tb.Header("Field", "Value")
	tb.Row("session", name)
	tb.Row("launch", orDash(st.LaunchUUID))
	tb.Row("state", st.LaunchState.String())
	tb.Row("items", st.Items)
	tb.Row("unfinished", st.Unfinished)
	tb.Row("pending logs", fmt.Sprintf("%d/%d", st.PendingLogs, st.BatchSize))
	return tb.String()
}

// Items renders items with their age relative to now.
func Items(m Mode, items []reporting.ItemInfo, now time.Time) string {
	tb := NewTable(m)
	tb.Header("UUID", "Name", "Type", "State", "Age")
	for _, it := range items {
		age := "-"
		if !it.StartTime.IsZero() {
			age = FmtDuration(now.Sub(it.StartTime))
		}
		tb.Row(it.UUID, Truncate(it.Name, 60), string(it.Type), it.State.String(), age)
	}
	tb.AlignRight(5)
	return tb.String()
}

// Summary renders a launch header line followed by its failed items.
// Defect locators are named from defects; nil uses the built-in types.
func Summary(m Mode, s *rp.LaunchSummary, defects display.Defects) string {
	if defects == nil {
		defects = display.DefaultDefects()
	}
	var b strings.Builder
	l := s.Launch
	fmt.Fprintf(&b, "Launch %s #%d (%s): %s, %d failed\n", l.Name, l.Number, l.UUID, orDash(l.Status), len(s.Failed))
	if len(s.Failed) == 0 {
		return b.String()
	}
	tb := NewTable(m)
	tb.Header("ID", "Path", "Name", "Type", "Issue", "Comment")
	for _, f := range s.Failed {
		issue := orDash(defects.WithCode(f.IssueType))
		if f.AutoAnalyzed {
			issue += " [auto]"
		}
		tb.Row(f.ID, f.Path, Truncate(f.Name, 60), f.Type, issue, Truncate(orDash(f.Comment), 40))
	}
	tb.AlignRight(1)
	b.WriteString(tb.String())
	b.WriteString("\n")
	return b.String()
}

// Projects renders project names, one per row.
func Projects(m Mode, names []string) string {
	tb := NewTable(m)
	tb.Header("#", "Project")
	for i, n := range names {
		tb.Row(i+1, n)
	}
	tb.AlignRight(1)
	return tb.String()
}

// Sessions renders stored session summaries.
func Sessions(m Mode, rows []store.SessionRow) string {
	tb := NewTable(m)
	tb.Header("Session", "Launch", "State", "Items", "Unfinished", "Pending", "Updated")
	for _, r := range rows {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format(time.RFC3339)
		}
		tb.Row(r.Name, orDash(r.LaunchUUID), r.LaunchState.String(), r.Items, r.Unfinished, r.PendingLogs, updated)
	}
	tb.AlignRight(4, 5, 6)
	return tb.String()
}

// Imports renders the per-document outcome of an import with totals.
func Imports(m Mode, res []results.ImportResult) string {
	tb := NewTable(m)
	tb.Header("Launch", "UUID", "Tests", "Failed", "Logs", "Result")
	var tests, failed, logs int
	for _, r := range res {
		uuid, result := "-", "ok"
		var t, f, l int
		if r.Outcome != nil {
			uuid = orDash(r.Outcome.LaunchUUID)
			t, f, l = r.Outcome.Tests, r.Outcome.Failed, r.Outcome.Logs
		}
		if r.Err != nil {
			result = Truncate(r.Err.Error(), 60)
		}
		tests, failed, logs = tests+t, failed+f, logs+l
		tb.Row(r.Doc.Launch.Name, uuid, t, f, l, result)
	}
	tb.Footer("TOTAL", "", tests, failed, logs, "")
	tb.AlignRight(3, 4, 5)
	return tb.String()
}
