// Package coordinator polls one Acond controller and serves the last good
// snapshot to any number of readers.
//
// # Refreshing
//
// Start reads the controller once before returning, then refreshes every
// Options.Interval. RefreshNow triggers a refresh on demand. Concurrent
// refreshes collapse into one device read and every waiting caller receives
// the same result.
//
// # Availability
//
// A failed refresh keeps the previous snapshot available (StatusStale) until
// FailureThreshold consecutive failures, after which Current reports nothing
// (StatusUnavailable) until the next success. An authentication failure
// withdraws the snapshot at once and pauses scheduled refreshes
// (StatusAuthFailed) until ResetAuth or an explicit RefreshNow succeeds.
//
// # Writes
//
// Write and WriteRegister send one value and then start a fresh refresh so
// that observers see the new value:
//
//	coord := coordinator.New(client, coordinator.Options{Interval: time.Minute})
//	if err := coord.Start(ctx); err != nil {
//		return err
//	}
//	defer coord.Stop()
//
//	err := coord.WriteRegister(ctx, "indoor_setpoint", 21.5)
//
// # Metrics
//
// MetricsCollector is a prometheus.Collector reporting the coordinator state
// and the numeric catalog registers of the served snapshot.
package coordinator
