// Package jobs runs scheduled background work.
//
// SnapshotJob applies every saved analytics preset and exports the resulting
// authority matrix. Scheduler runs it on a cron expression:
//
//	sched := jobs.NewScheduler(logger)
//	if err := sched.Add("0 3 * * *", job); err != nil {
//		...
//	}
//	sched.Start()
//	defer sched.Stop(ctx)
package jobs
