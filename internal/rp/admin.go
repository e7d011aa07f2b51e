package rp

import (
	"context"
	"strconv"
)

// AdminScope covers project administration. It is not project-scoped and
// needs an administrator token.
type AdminScope struct {
	client *Client
}

// CreateProjectRQ creates a project.
type CreateProjectRQ struct {
	ProjectName string `json:"projectName"`
	EntryType   string `json:"entryType"`
}

// UpdateProjectRQ updates project configuration.
type UpdateProjectRQ struct {
	Configuration map[string]any `json:"configuration,omitempty"`
}

// ProjectNames lists every project name.
// Uses GET /api/v1/project/names.
func (a *AdminScope) ProjectNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := a.client.doJSON(ctx, "GET", a.client.endpoint("api", "v1", "project", "names"), "list project names", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CreateProject creates a project and returns its numeric id.
// Uses POST /api/v1/project.
func (a *AdminScope) CreateProject(ctx context.Context, rq CreateProjectRQ) (int, error) {
	if rq.EntryType == "" {
		rq.EntryType = "INTERNAL"
	}
	var rs struct {
		ID int `json:"id"`
	}
	if err := a.client.doJSON(ctx, "POST", a.client.endpoint("api", "v1", "project"), "create project", rq, &rs); err != nil {
		return 0, err
	}
	if rs.ID == 0 {
		return 0, &EntryCreatedError{Operation: "create project", Body: "missing id"}
	}
	return rs.ID, nil
}

// DeleteProject deletes the project with the given numeric id.
// Uses DELETE /api/v1/project/{id}.
func (a *AdminScope) DeleteProject(ctx context.Context, id int) (*OperationCompletionRS, error) {
	var rs OperationCompletionRS
	if err := a.client.doJSON(ctx, "DELETE", a.client.endpoint("api", "v1", "project", strconv.Itoa(id)), "delete project", nil, &rs); err != nil {
		return nil, err
	}
	if rs.Message == "" {
		return nil, &OperationCompletionError{Operation: "delete project", Body: "missing message"}
	}
	return &rs, nil
}

// UpdateProject updates the named project's configuration.
// Uses PUT /api/v1/project/{name}.
func (a *AdminScope) UpdateProject(ctx context.Context, name string, rq UpdateProjectRQ) (*OperationCompletionRS, error) {
	var rs OperationCompletionRS
	if err := a.client.doJSON(ctx, "PUT", a.client.endpoint("api", "v1", "project", name), "update project", rq, &rs); err != nil {
		return nil, err
	}
	if rs.Message == "" {
		return nil, &OperationCompletionError{Operation: "update project", Body: "missing message"}
	}
	return &rs, nil
}
