// Package token implements cordon bearer tokens: building, parsing,
// attenuation, sealing and authorization. A token is a chain of
// signed blocks carrying Datalog facts, rules and checks; the
// authorizer combines them with its own program and policies to
// reach an allow/deny decision.
package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/wire"
)

// Caller input errors.
var (
	ErrInvalidArgument = errors.New("token: invalid argument")
	// ErrLanguageError wraps Datalog source that fails to parse or
	// validate.
	ErrLanguageError = errors.New("token: language error")
)

// Wire and signature errors surface the underlying package
// sentinels; errors.Is works against both aliases.
var (
	ErrSignatureInvalidFormat    = crypto.ErrInvalidFormat
	ErrSignatureInvalidSignature = crypto.ErrInvalidSignature
	ErrSealedSignature           = crypto.ErrSealedSignature
	ErrInvalidKeySize            = crypto.ErrInvalidKeySize
	ErrInvalidSignatureSize      = crypto.ErrInvalidSignatureSize
	ErrInvalidKey                = crypto.ErrInvalidKey
	ErrPKCS8                     = crypto.ErrPKCS8
	ErrDeserialization           = wire.ErrDeserialization
	ErrSerialization             = wire.ErrSerialization
	ErrBlockDeserialization      = wire.ErrBlockDeserialization
	ErrVersion                   = wire.ErrVersion
	ErrEmptyKeys                 = wire.ErrEmptyKeys
	ErrSymbolTableOverlap        = datalog.ErrSymbolTableOverlap
	ErrPublicKeyTableOverlap     = datalog.ErrPublicKeyTableOverlap
	ErrUnknownSymbol             = datalog.ErrUnknownSymbol
	ErrUnknownPublicKey          = datalog.ErrUnknownPublicKey
)

// ErrUnknownExternalKey reports a trusting annotation naming a key
// that no block's table interned.
var ErrUnknownExternalKey = errors.New("token: unknown external key")

// ErrExistingPublicKey reports registering a third-party key that is
// already present.
var ErrExistingPublicKey = errors.New("token: public key already exists")

// ErrInvalidBlockID reports an out-of-range block index.
var ErrInvalidBlockID = errors.New("token: invalid block id")

// Lifecycle errors.
var (
	ErrAlreadySealed  = crypto.ErrAlreadySealed
	ErrAppendOnSealed = crypto.ErrAlreadySealed
)

// Evaluation limit errors.
var (
	ErrTooManyFacts      = datalog.ErrTooManyFacts
	ErrTooManyIterations = datalog.ErrTooManyIterations
	ErrTimeout           = datalog.ErrTimeout
)

// Semantic errors.
var (
	// ErrInvalidBlockRule reports a non-authority block rule that
	// would attribute facts to blocks it may not speak for.
	ErrInvalidBlockRule = datalog.ErrInvalidBlockRule
	// ErrNoMatchingPolicy reports an authorization where every check
	// passed but no policy matched.
	ErrNoMatchingPolicy = errors.New("token: no matching policy")
	// ErrAuthorizerNotEmpty reports attaching a token to an
	// authorizer that already holds one.
	ErrAuthorizerNotEmpty = errors.New("token: authorizer already holds a token")
	// ErrRevoked reports a token carrying a revoked block id.
	ErrRevoked = errors.New("token: revoked")
)

// Misc errors.
var (
	ErrConversion            = errors.New("token: conversion error")
	ErrUnexpectedQueryResult = errors.New("token: unexpected query result")
	ErrInternal              = errors.New("token: internal error")
)

// FailedCheck describes one check that did not pass during
// authorization.
type FailedCheck struct {
	// BlockID is the index of the owning block; meaningless when
	// IsAuthorizer is set.
	BlockID int
	// CheckID is the check's position inside its block.
	CheckID int
	// RuleSource is the check's canonical printed form.
	RuleSource string
	// IsAuthorizer marks checks added by the authorizer itself.
	IsAuthorizer bool
}

func (f FailedCheck) String() string {
	if f.IsAuthorizer {
		return fmt.Sprintf("authorizer check %d: %s", f.CheckID, f.RuleSource)
	}
	return fmt.Sprintf("block %d check %d: %s", f.BlockID, f.CheckID, f.RuleSource)
}

// UnauthorizedError aggregates every failed check, or reports the
// deny policy that matched.
type UnauthorizedError struct {
	Failed []FailedCheck
	// DenyPolicyID is the index of the deny policy that matched, or
	// -1 when the failure came from checks.
	DenyPolicyID int
	// AllowPolicyID is the index of the allow policy that matched
	// while checks failed, or -1.
	AllowPolicyID int
}

func (e *UnauthorizedError) Error() string {
	if len(e.Failed) == 0 && e.DenyPolicyID >= 0 {
		return fmt.Sprintf("token: unauthorized: deny policy %d matched", e.DenyPolicyID)
	}
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = f.String()
	}
	return "token: unauthorized: failed checks: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match any UnauthorizedError instance.
func (e *UnauthorizedError) Is(target error) bool {
	_, ok := target.(*UnauthorizedError)
	return ok
}

// ErrUnauthorized is a matching target for errors.Is.
var ErrUnauthorized error = &UnauthorizedError{}
