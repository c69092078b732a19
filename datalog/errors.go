package datalog

import (
	"errors"
	"fmt"
)

// Evaluation limit errors. They abort the run the moment the limit is
// crossed; partial derivations are discarded by the caller.
var (
	ErrTooManyFacts      = errors.New("datalog: too many facts")
	ErrTooManyIterations = errors.New("datalog: too many iterations")
	ErrTimeout           = errors.New("datalog: evaluation timed out")
)

// Table errors, detected while reconstructing the accumulated tables
// during verification.
var (
	ErrSymbolTableOverlap    = errors.New("datalog: symbol table overlap")
	ErrPublicKeyTableOverlap = errors.New("datalog: public key table overlap")
	ErrUnknownSymbol         = errors.New("datalog: unknown symbol")
	ErrUnknownPublicKey      = errors.New("datalog: unknown public key")
)

// ErrInvalidBlockRule reports a rule in a non-authority block whose
// trust set includes a block appended after it, so the facts it
// derives would carry the origin of a block its signer never saw.
// Detected at load time, before evaluation.
var ErrInvalidBlockRule = errors.New("datalog: block rule trusts facts beyond its scope")

// ExecutionError reports a type mismatch, overflow, or other failure
// while evaluating an expression on ground terms.
type ExecutionError struct {
	Op  string
	Msg string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("datalog: execution error in %s: %s", e.Op, e.Msg)
}

func executionErrorf(op, format string, args ...interface{}) error {
	return &ExecutionError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
