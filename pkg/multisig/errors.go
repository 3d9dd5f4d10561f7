package multisig

import "github.com/go-faster/errors"

// Error kinds returned by the builders, parsers and the order state machine.
// Callers match them with errors.Is, the wrapped message carries the details.
// ErrUnauthorized is returned for init and execute messages that do not come from the expected contract.
var (
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrMalformedState        = errors.New("malformed state")
	ErrSeqnoConflict         = errors.New("order seqno conflict")
	ErrUnknownSigner         = errors.New("unknown signer")
	ErrUnauthorized          = errors.New("unauthorized sender")
	ErrAlreadyApproved       = errors.New("already approved")
	ErrAlreadyExecuted       = errors.New("already executed")
	ErrAlreadyInitialized    = errors.New("order already initialized")
	ErrNotInitialized        = errors.New("order is not initialized")
	ErrExpired               = errors.New("order expired")
	ErrConfigurationMismatch = errors.New("configuration mismatch")
)

// Exit codes an order reports in approve_rejected.
const (
	ExitCodeAlreadyApproved uint32 = 107
	ExitCodeExpired         uint32 = 111
	ExitCodeAlreadyExecuted uint32 = 112
)

// RejectionExitCode maps an approval error to the exit code of approve_rejected.
// It reports false for errors the order does not answer.
func RejectionExitCode(err error) (uint32, bool) {
	switch {
	case errors.Is(err, ErrAlreadyApproved):
		return ExitCodeAlreadyApproved, true
	case errors.Is(err, ErrExpired):
		return ExitCodeExpired, true
	case errors.Is(err, ErrAlreadyExecuted):
		return ExitCodeAlreadyExecuted, true
	}
	return 0, false
}

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedState, format, args...)
}

// malformedErr wraps a low-level cell error so that it still matches ErrMalformedState.
func malformedErr(err error, what string) error {
	return errors.Wrapf(ErrMalformedState, "%v: %v", what, err)
}
