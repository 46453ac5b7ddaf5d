// Package cli provides the command tree and the helpers it is wired with.
//
//   - cli/cmd: cobra commands (diff, build, get, version)
//   - cli/parallel: parallel task execution with controlled concurrency
//   - cli/ui/errorhandler: command execution and error normalization
package cli
