// Package async provides safe execution of background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery,
// timeout enforcement, context cancellation and error logging.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, log, 30*time.Second, "audit log save", func(ctx context.Context) error {
//		return store.Save(ctx, info)
//	})
//
// Tracker: SafeGo plus a wait group so shutdown can drain pending work
//
//	tracker := async.NewTracker(log)
//	tracker.Go(ctx, 10*time.Second, "audit log save", save)
//	tracker.WaitTimeout(5 * time.Second)
//
// # Related Packages
//
//   - pkg/auditing: Uses Tracker for asynchronous audit log saves
package async
