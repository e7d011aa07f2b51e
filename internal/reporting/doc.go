// Package reporting maps a caller's launch, suite, test and step model onto
// Report Portal items and delivers logs in multipart batches.
//
// A Session owns one launch. Suites are found or created by path through a
// Resolver, uuids are translated to numeric ids by a Translator, and logs
// with attachments are queued in a Batcher that flushes when full and
// before any item or the launch is finished:
//
//	s := reporting.New(client.Project("demo"), reporting.WithLogBatchSize(20))
//	defer s.Close(ctx)
//	launch, err := s.StartLaunch(ctx, reporting.StartLaunchParams{Name: "nightly"})
//	suite, err := s.SuiteID(ctx, []string{"Root", "Login"})
//	test, err := s.StartTestItem(ctx, reporting.StartItemParams{Name: "valid user", Type: rp.TypeTest, ParentUUID: suite})
//	err = s.Log(ctx, reporting.LogRecord{ItemUUID: test, Message: "screenshot", Attachment: att})
//	_, err = s.FinishTestItem(ctx, test, reporting.FinishItemParams{Status: rp.StatusPassed})
//	_, err = s.FinishLaunch(ctx, reporting.FinishLaunchParams{})
package reporting
