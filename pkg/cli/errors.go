package cli

import (
	"errors"
	"fmt"

	"mercator-hq/costgate/pkg/apperrors"
)

// Exit codes returned by the costgate command.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitConfig      = 2
	ExitRejected    = 3
	ExitUnavailable = 4
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr), errors.Is(err, apperrors.ErrValidation):
		return ExitConfig
	case errors.Is(err, apperrors.ErrRateLimited),
		errors.Is(err, apperrors.ErrCircuitOpen),
		errors.Is(err, apperrors.ErrBudgetConstraint):
		return ExitRejected
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return ExitUnavailable
	}
	return ExitError
}
