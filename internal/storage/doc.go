// Package storage persists what the scaler did.
//
// It keeps:
//   - an append-only log of scale actions (applied, dry-run and failed)
//   - notification dedup state so alerts stay quiet across restarts
package storage
