package rp

import (
	"context"
	"log/slog"
)

// ProjectScope provides access to resources within a specific Report Portal project.
type ProjectScope struct {
	client      *Client
	projectName string
}

// Name returns the project name.
func (p *ProjectScope) Name() string { return p.projectName }

// Launches returns a LaunchScope for launches in this project.
func (p *ProjectScope) Launches() *LaunchScope {
	return &LaunchScope{project: p}
}

// Items returns an ItemScope for test items in this project.
func (p *ProjectScope) Items() *ItemScope {
	return &ItemScope{project: p}
}

// Logs returns a LogScope for log entries in this project.
func (p *ProjectScope) Logs() *LogScope {
	return &LogScope{project: p}
}

// Settings returns the project settings (defect sub-types).
// Uses GET /api/v1/{project}/settings.
func (p *ProjectScope) Settings(ctx context.Context) (*ProjectSettingsResource, error) {
	var settings ProjectSettingsResource
	if err := p.client.doJSON(ctx, "GET", p.v1("settings"), "get project settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Logger returns the client logger tagged with the project name.
func (p *ProjectScope) Logger() *slog.Logger {
	return p.client.logger.With("project", p.projectName)
}

func (p *ProjectScope) v1(segments ...string) string {
	return p.client.endpoint(append([]string{"api", "v1", p.projectName}, segments...)...)
}

func (p *ProjectScope) v2(segments ...string) string {
	return p.client.endpoint(append([]string{"api", "v2", p.projectName}, segments...)...)
}
