// Package errorhandler runs the command tree and turns its failures into a
// single user-facing message.
package errorhandler

import (
	"context"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/spf13/cobra"
)

// Executor coordinates Cobra execution and surfaces a normalized error.
type Executor struct {
	normalizer DefaultNormalizer
}

// NewExecutor constructs an Executor.
func NewExecutor() *Executor {
	return &Executor{normalizer: DefaultNormalizer{}}
}

// Execute runs cmd with ctx. Cobra's own error printing is silenced so that
// the caller reports the failure exactly once; the returned *CommandError
// keeps the original error chain.
func (e *Executor) Execute(ctx context.Context, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	return &CommandError{
		message: e.normalizer.Normalize(err.Error()),
		cause:   err,
	}
}

// CommandError is a command failure with a normalized message.
type CommandError struct {
	message string
	cause   error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message != "":
		return e.message
	case e.cause != nil:
		return e.cause.Error()
	default:
		return ""
	}
}

// Unwrap exposes the underlying cause for errors.Is/errors.As consumers.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// Category classifies the underlying cause.
func (e *CommandError) Category() fluxerr.Category {
	if e == nil {
		return fluxerr.CategoryUnknown
	}

	return fluxerr.CategoryOf(e.cause)
}

// DefaultNormalizer cleans up error text produced by Cobra and pflag.
type DefaultNormalizer struct{}

// Normalize trims whitespace, removes redundant "Error:" prefixes and drops
// blank lines.
func (DefaultNormalizer) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	kept := lines[:0]

	for i, line := range lines {
		if i == 0 {
			line = strings.TrimPrefix(strings.TrimSpace(line), "Error: ")
		}

		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimRight(line, " \t"))
		}
	}

	return strings.Join(kept, "\n")
}
