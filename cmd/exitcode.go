package cmd

import "github.com/tphakala/opusrec/internal/errors"

// Process exit codes by error category
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitResource      = 3
	ExitOverflow      = 4
	ExitEncode        = 5
	ExitMux           = 6
	ExitShutdown      = 7
)

// ExitCode maps an error returned by a command to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch errors.CategoryOf(err) {
	case errors.CategoryConfiguration, errors.CategoryValidation:
		return ExitConfiguration
	case errors.CategoryResource, errors.CategoryAudioSource, errors.CategoryNotFound, errors.CategoryFileIO:
		return ExitResource
	case errors.CategoryBuffer:
		return ExitOverflow
	case errors.CategoryEncode:
		return ExitEncode
	case errors.CategoryMux:
		return ExitMux
	case errors.CategoryShutdown:
		return ExitShutdown
	default:
		return ExitFailure
	}
}
