package core

import (
	"errors"
	"fmt"
)

// Error categories. Every failure a handler returns wraps exactly one of
// these so callers (and the RPC layer) can classify it with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidParams       = errors.New("invalid params")
	ErrInsufficientStake   = errors.New("insufficient stake")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWindowClosed        = errors.New("window closed")
	ErrWindowNotElapsed    = errors.New("window not elapsed")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrReentrant           = errors.New("reentrant call")
)

// Specific failures named by the oracle's operations.
var (
	ErrGameNotFound      = fmt.Errorf("game %w", ErrNotFound)
	ErrAlreadyRegistered = fmt.Errorf("game %w", ErrAlreadyExists)
	ErrInvalidStake      = fmt.Errorf("stake must equal the minimum: %w", ErrInvalidParams)
	ErrGameInactive      = fmt.Errorf("game inactive: %w", ErrInvalidState)

	ErrMatchNotFound  = fmt.Errorf("match %w", ErrNotFound)
	ErrInvalidTime    = fmt.Errorf("scheduled time must be in the future: %w", ErrInvalidParams)
	ErrDuplicateMatch = fmt.Errorf("match %w", ErrAlreadyExists)

	ErrResultNotFound     = fmt.Errorf("result %w", ErrNotFound)
	ErrAlreadySubmitted   = fmt.Errorf("result %w", ErrAlreadyExists)
	ErrResultNotFinalized = fmt.Errorf("result not finalized: %w", ErrInvalidState)
	ErrResultInvalidated  = fmt.Errorf("result invalidated by dispute: %w", ErrInvalidState)
	ErrFieldNotFound      = fmt.Errorf("result field %w", ErrNotFound)

	ErrDisputeNotFound        = fmt.Errorf("dispute %w", ErrNotFound)
	ErrAlreadyDisputed        = fmt.Errorf("match already disputed: %w", ErrAlreadyExists)
	ErrDisputeWindowClosed    = fmt.Errorf("dispute %w", ErrWindowClosed)
	ErrDisputeAlreadyResolved = fmt.Errorf("dispute already resolved: %w", ErrInvalidState)

	ErrConsumerNotFound = fmt.Errorf("consumer %w", ErrNotFound)
)
