// Package svc provides the service layer between the CLI and the clients.
//
// Subpackages:
//   - source: maps Flux source names to local directories
//   - builder: expands a GitOps tree into rendered objects
//   - normalize: strips noise and elides Secrets and CRDs
//   - diff: per-object unified diffs between two manifest sets
//   - pipeline: runs the stages above for the CLI
package svc
