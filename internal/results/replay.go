package results

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rpreport/internal/reporting"
	"rpreport/internal/rp"
)

// Outcome counts what a replay reported.
type Outcome struct {
	LaunchUUID string
	Tests      int
	Failed     int
	Logs       int
	Status     rp.Status
}

// Replay reports doc into sess: start the launch, resolve each suite path,
// report tests and their steps depth first, finish whatever suites the
// replay started and finish the launch. agent, when set, adds system
// attributes to the launch.
func Replay(ctx context.Context, sess *reporting.Session, doc *Document, agent string) (*Outcome, error) {
	launchUUID, err := sess.StartLaunch(ctx, reporting.StartLaunchParams{
		Name:        doc.Launch.Name,
		StartTime:   doc.Launch.StartTime,
		Description: doc.Launch.Description,
		Attributes:  doc.Launch.Attributes,
		Mode:        doc.Launch.Mode,
		Rerun:       doc.Launch.Rerun,
		Agent:       agent,
	})
	if err != nil {
		return nil, err
	}
	out := &Outcome{LaunchUUID: launchUUID}

	for _, suite := range doc.Suites {
		suiteUUID, err := sess.SuiteID(ctx, reporting.SplitSuitePath(suite.Name))
		if err != nil {
			return out, err
		}
		for _, t := range suite.Tests {
			if err := replayTest(ctx, sess, doc.Dir, suiteUUID, t, rp.TypeTest, out); err != nil {
				return out, err
			}
			out.Tests++
		}
	}

	// Unfinished is newest first, so children close before parents.
	for _, it := range sess.Unfinished() {
		if _, err := sess.FinishTestItem(ctx, it.UUID, reporting.FinishItemParams{EndTime: doc.Launch.EndTime}); err != nil {
			return out, err
		}
	}

	out.Status = reporting.MapStatus(doc.Launch.Status)
	if _, err := sess.FinishLaunch(ctx, reporting.FinishLaunchParams{
		EndTime: doc.Launch.EndTime,
		Status:  out.Status,
	}); err != nil {
		return out, err
	}
	return out, nil
}

func replayTest(ctx context.Context, sess *reporting.Session, dir, parent string, t Test, defType rp.ItemType, out *Outcome) error {
	typ := defType
	if t.Type != "" {
		typ = rp.ItemType(strings.ToUpper(t.Type))
	}
	uuid, err := sess.StartTestItem(ctx, reporting.StartItemParams{
		Name:        t.Name,
		StartTime:   t.StartTime,
		Type:        typ,
		Description: t.Description,
		Attributes:  t.Attributes,
		Parameters:  t.Parameters,
		ParentUUID:  parent,
		CodeRef:     t.CodeRef,
		TestCaseID:  t.TestCaseID,
	})
	if err != nil {
		return err
	}

	for _, l := range t.Logs {
		rec, err := logRecord(dir, uuid, l)
		if err != nil {
			return err
		}
		if err := sess.Log(ctx, rec); err != nil {
			return err
		}
		out.Logs++
	}
	for _, step := range t.Steps {
		if err := replayTest(ctx, sess, dir, uuid, step, rp.TypeStep, out); err != nil {
			return err
		}
	}

	status := reporting.MapStatus(t.Status)
	if status == rp.StatusFailed && defType == rp.TypeTest {
		out.Failed++
	}
	fin := reporting.FinishItemParams{EndTime: t.EndTime, Status: status}
	if t.Issue != nil {
		fin.Issue = &rp.Issue{IssueType: t.Issue.Type, Comment: t.Issue.Comment}
	}
	_, err = sess.FinishTestItem(ctx, uuid, fin)
	return err
}

func logRecord(dir, itemUUID string, l Log) (reporting.LogRecord, error) {
	rec := reporting.LogRecord{
		Time:     l.Time,
		Message:  l.Message,
		Level:    rp.LogLevel(strings.ToUpper(l.Level)),
		ItemUUID: itemUUID,
	}
	if l.Attachment != "" {
		path := l.Attachment
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		att, err := reporting.FileAttachment(path)
		if err != nil {
			return rec, fmt.Errorf("attachment for %q: %w", l.Message, err)
		}
		rec.Attachment = att
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return rec, nil
}

// ImportResult is the outcome of replaying one document.
type ImportResult struct {
	Doc     *Document
	Outcome *Outcome
	Err     error
}

// ImportAll replays each document into its own session, at most parallel
// at a time. Every session is closed, flushing queued logs, whether or not
// its replay succeeded. Errors are reported per document.
func ImportAll(ctx context.Context, docs []*Document, newSession func() *reporting.Session, agent string, parallel int) []ImportResult {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]ImportResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, doc := range docs {
		g.Go(func() error {
			sess := newSession()
			out, err := Replay(gctx, sess, doc, agent)
			if cerr := sess.Close(gctx); err == nil {
				err = cerr
			}
			results[i] = ImportResult{Doc: doc, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait() // errors captured in ImportResult.Err
	return results
}
