package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"rpreport/internal/config"
	"rpreport/internal/format"
	"rpreport/internal/logging"
	"rpreport/internal/reporting"
	"rpreport/internal/rp"
	"rpreport/internal/store"
)

// env is what every command needs: settings, a client and the state store.
type env struct {
	cfg    *config.Config
	client *rp.Client
	store  store.Store
	logger *slog.Logger
	mode   format.Mode
}

func openEnv(cmd *cobra.Command) (*env, error) {
	mode, err := format.ParseMode(rootFlags.format)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	logger := logging.New("cli")
	client, err := cfg.NewClient(logging.New("rp"))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return &env{cfg: cfg, client: client, store: st, logger: logger, mode: mode}, nil
}

func (e *env) project() *rp.ProjectScope {
	return e.client.Project(e.cfg.Project)
}

func (e *env) newSession() *reporting.Session {
	opts := append(e.cfg.SessionOptions(), reporting.WithLogger(logging.New("session")))
	return reporting.New(e.project(), opts...)
}

type sessionFunc func(ctx context.Context, e *env, sess *reporting.Session) error

// withSession runs fn against the stored session. The state, queued logs
// included, is saved on every exit path, including when fn fails.
func withSession(cmd *cobra.Command, fn sessionFunc) error {
	return runSession(cmd, false, fn)
}

// withNewLaunch is withSession for commands that begin a launch: a stored
// session whose launch is finished is dropped instead of restored.
func withNewLaunch(cmd *cobra.Command, fn sessionFunc) error {
	return runSession(cmd, true, fn)
}

func runSession(cmd *cobra.Command, replaceFinished bool, fn sessionFunc) (err error) {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	snap, err := e.store.LoadSession(rootFlags.session)
	if err != nil {
		return fmt.Errorf("load session %q: %w", rootFlags.session, err)
	}
	if replaceFinished && snap != nil && snap.LaunchState == reporting.LaunchFinished {
		e.logger.Info("replacing finished session", "session", rootFlags.session, "launch", snap.LaunchUUID)
		snap = nil
	}
	sess := e.newSession()
	if err := sess.Restore(snap); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// Queued logs stay in the saved snapshot. They are sent when the batch
	// fills, an item or the launch finishes, or log --flush is given.
	defer func() {
		if saveErr := e.store.SaveSession(rootFlags.session, sess.Snapshot()); saveErr != nil {
			e.logger.Warn("save session", "session", rootFlags.session, "pending", sess.Status().PendingLogs, "error", saveErr)
			err = errors.Join(err, fmt.Errorf("save session %q: %w", rootFlags.session, saveErr))
		}
	}()
	return fn(ctx, e, sess)
}

// parsePairs turns repeated key=value flags into a map. A bare key maps
// to "".
func parsePairs(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("--%s %q: empty key", flag, p)
		}
		m[k] = v
	}
	return m, nil
}
