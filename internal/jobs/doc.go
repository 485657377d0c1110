// Package jobs runs matching jobs in the background.
//
// A Manager accepts submissions, runs at most PoolSize jobs at once and
// keeps their snapshots and results for polling:
//
//	mgr, err := jobs.NewManager(m, jobs.Config{PoolSize: 2, RetainedJobs: 100},
//	    jobs.WithStore(store), jobs.WithLogger(logger))
//	defer mgr.Close()
//
//	id, err := mgr.Submit(keywords, pages, config.DefaultMatching())
//
//	updates, unsubscribe, err := mgr.Subscribe(id)
//	defer unsubscribe()
//	for snap := range updates {
//	    fmt.Printf("%s %.0f%% %s\n", snap.Status, snap.Progress*100, snap.StepLabel)
//	}
//
//	result, err := mgr.Result(id)
//
// Subscriptions never block the pipeline: each subscriber has a small
// buffer and the oldest undelivered snapshot is dropped when it is full.
//
// Finished jobs are kept in an LRU of RetainedJobs entries. With a Store,
// snapshots are written at every step transition and results on
// completion, so jobs survive restarts until they are evicted.
package jobs
