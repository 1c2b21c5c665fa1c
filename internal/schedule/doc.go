// Package schedule resolves cron-driven replica changes for a single resource.
//
// It is pure: nothing here talks to the cluster or keeps state between calls.
//   - Parser turns a resource's annotations into a Config (inline or predefined Set)
//   - Trigger reports whether a cron expression fired inside a Window
//   - ReplicasSpec resolves a literal or annotation-pointer replica value
//   - Decide picks the one entry that wins for the current Window
package schedule
