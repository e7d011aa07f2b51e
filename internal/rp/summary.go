package rp

import (
	"context"
	"fmt"
	"strconv"
)

// LaunchSummary is a launch together with its failed test items.
type LaunchSummary struct {
	Launch *LaunchResource
	Failed []FailedItem
}

// FailedItem is a flattened view of a failed test item.
type FailedItem struct {
	ID        int
	UUID      string
	Name      string
	Type      string
	Path      string
	ParentID  int
	IssueType string
	Comment   string

	// AutoAnalyzed marks an issue type assigned by the analyzer.
	AutoAnalyzed bool
}

// FetchSummary fetches a launch by uuid and lists its failed items.
func (p *ProjectScope) FetchSummary(ctx context.Context, launchUUID string) (*LaunchSummary, error) {
	launch, err := p.Launches().GetByUUID(ctx, launchUUID)
	if err != nil {
		return nil, fmt.Errorf("fetch summary: get launch: %w", err)
	}

	items, err := p.Items().ListAll(ctx,
		WithLaunchID(launch.ID),
		WithStatus(string(StatusFailed)),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch summary: list items: %w", err)
	}

	sum := &LaunchSummary{
		Launch: launch,
		Failed: make([]FailedItem, 0, len(items)),
	}
	for _, it := range items {
		path := it.Path
		if path == "" {
			path = strconv.Itoa(it.ID)
		}
		fi := FailedItem{
			ID:       it.ID,
			UUID:     it.UUID,
			Name:     it.Name,
			Type:     it.Type,
			Path:     path,
			ParentID: it.Parent,
		}
		if it.Issue != nil {
			fi.IssueType = it.Issue.IssueType
			fi.Comment = it.Issue.Comment
			fi.AutoAnalyzed = it.Issue.AutoAnalyzed
		}
		sum.Failed = append(sum.Failed, fi)
	}
	return sum, nil
}
