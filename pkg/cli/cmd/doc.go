// Package cmd provides the command-line interface for fluxdiff.
//
// The root command carries the global --log-level and --config flags and
// hosts these subcommands:
//   - diff: build two trees and print the unified diff between them
//   - build: print the rendered objects of one tree
//   - get: list the Kustomizations or HelmReleases a tree declares
//   - version: print build information
package cmd
