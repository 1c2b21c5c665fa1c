// Package notifier turns scaler events into short operator messages and
// delivers them asynchronously.
//
// The reconcile loop never waits on it: events arrive over the event bus,
// messages go through a bounded queue (dropped when full), a token-bucket
// rate limit and a small retry budget. Repeated failures for the same
// resource and error are suppressed for DedupWindow, optionally across
// restarts through the storage dedup table.
package notifier
