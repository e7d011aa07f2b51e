package rp

import (
	"context"
	"strconv"
)

// LaunchScope provides operations on launches within a project.
type LaunchScope struct {
	project *ProjectScope
}

// Start creates a launch and returns its uuid.
// Uses POST /api/v2/{project}/launch.
func (l *LaunchScope) Start(ctx context.Context, rq StartLaunchRQ) (string, error) {
	var rs EntryCreatedRS
	if err := l.project.client.doJSON(ctx, "POST", l.project.v2("launch"), "start launch", rq, &rs); err != nil {
		return "", err
	}
	if rs.ID == "" {
		return "", &EntryCreatedError{Operation: "start launch", Body: "missing id"}
	}
	return rs.ID, nil
}

// Finish closes the launch identified by uuid.
// Uses PUT /api/v1/{project}/launch/{uuid}/finish.
func (l *LaunchScope) Finish(ctx context.Context, uuid string, rq FinishExecutionRQ) (*FinishLaunchRS, error) {
	var rs FinishLaunchRS
	if err := l.project.client.doJSON(ctx, "PUT", l.project.v1("launch", uuid, "finish"), "finish launch", rq, &rs); err != nil {
		return nil, err
	}
	if rs.ID == "" {
		return nil, &OperationCompletionError{Operation: "finish launch", Body: "missing id"}
	}
	return &rs, nil
}

// Get returns a single launch by its numeric ID.
func (l *LaunchScope) Get(ctx context.Context, id int) (*LaunchResource, error) {
	var launch LaunchResource
	if err := l.project.client.doJSON(ctx, "GET", l.project.v1("launch", strconv.Itoa(id)), "get launch", nil, &launch); err != nil {
		return nil, err
	}
	return &launch, nil
}

// GetByUUID returns a single launch by its UUID string.
func (l *LaunchScope) GetByUUID(ctx context.Context, uuid string) (*LaunchResource, error) {
	var launch LaunchResource
	if err := l.project.client.doJSON(ctx, "GET", l.project.v1("launch", "uuid", uuid), "get launch by uuid", nil, &launch); err != nil {
		return nil, err
	}
	return &launch, nil
}
