// Package rp provides a scope-based client for the Report Portal 5 API,
// covering the write side used by test agents (launch, item and log
// reporting) plus the read endpoints needed to translate uuids into
// numeric ids.
//
// Usage:
//
//	client, err := rp.New(baseURL, token, rp.WithTimeout(30*time.Second))
//	project := client.Project("my_project")
//	launchUUID, err := project.Launches().Start(ctx, rp.StartLaunchRQ{Name: "nightly", StartTime: rp.EpochMillis(time.Now())})
//	itemUUID, err := project.Items().Start(ctx, "", rp.StartTestItemRQ{Name: "suite", Type: rp.TypeSuite, LaunchUUID: launchUUID})
//	ack, err := project.Logs().SaveBatch(ctx, entries, files)
//
// Create endpoints live under /api/v2 and take uuids; lookups and updates
// live under /api/v1 and mostly take numeric ids.
package rp
