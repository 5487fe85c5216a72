package distributor

import (
	"errors"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/access"
)

// Kind groups error codes by who can fix them
type Kind string

const (
	KindAccess      Kind = "access"
	KindState       Kind = "state"
	KindValidation  Kind = "validation"
	KindTransfer    Kind = "transfer"
	KindConcurrency Kind = "concurrency"
)

type Code string

const (
	CodeUnauthorized        Code = "Unauthorized"
	CodeAlreadyOpened       Code = "AlreadyOpened"
	CodeNotOpen             Code = "NotOpen"
	CodeExpired             Code = "Expired"
	CodeNotExpiredYet       Code = "NotExpiredYet"
	CodePaused              Code = "Paused"
	CodeNotPaused           Code = "NotPaused"
	CodeInvalidDeposit      Code = "InvalidDeposit"
	CodeInvalidProof        Code = "InvalidProof"
	CodeAlreadyClaimed      Code = "AlreadyClaimed"
	CodeInvalidOwner        Code = "InvalidOwner"
	CodeTransferFailed      Code = "TransferFailed"
	CodeTransferPending     Code = "TransferPending"
	CodeInsufficientCustody Code = "InsufficientCustody"
	CodeReentrantCall       Code = "ReentrantCall"
	CodeStateNotPersisted   Code = "StateNotPersisted"
)

// Error is a distributor failure with a stable code. Compare with errors.Is
// against the Err* values.
type Error struct {
	Code    Code
	Kind    Kind
	message string
}

func (e *Error) Error() string {
	return e.message
}

func newError(code Code, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, message: message}
}

var (
	ErrAlreadyOpened       = newError(CodeAlreadyOpened, KindState, "distribution already opened")
	ErrNotOpen             = newError(CodeNotOpen, KindState, "distribution not open")
	ErrExpired             = newError(CodeExpired, KindState, "claim window has expired")
	ErrNotExpiredYet       = newError(CodeNotExpiredYet, KindState, "claim window has not expired yet")
	ErrPaused              = newError(CodePaused, KindState, "claiming is paused")
	ErrNotPaused           = newError(CodeNotPaused, KindState, "claiming is not paused")
	ErrInvalidDeposit      = newError(CodeInvalidDeposit, KindValidation, "deposit value must be greater than zero")
	ErrInvalidProof        = newError(CodeInvalidProof, KindValidation, "invalid merkle proof")
	ErrAlreadyClaimed      = newError(CodeAlreadyClaimed, KindValidation, "allocation already claimed")
	ErrInvalidOwner        = newError(CodeInvalidOwner, KindValidation, "owner must be non-zero and distinct from the authority")
	ErrTransferFailed      = newError(CodeTransferFailed, KindTransfer, "value transfer failed")
	ErrTransferPending     = newError(CodeTransferPending, KindTransfer, "value transfer submitted but not confirmed")
	ErrInsufficientCustody = newError(CodeInsufficientCustody, KindTransfer, "claim exceeds value held in custody")
	ErrReentrantCall       = newError(CodeReentrantCall, KindConcurrency, "reentrant call")
	ErrStateNotPersisted   = newError(CodeStateNotPersisted, KindState, "distribution state could not be persisted")
)

// KindOf classifies err, returning "" for errors that didn't come from the distributor
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, access.ErrUnauthorized) {
		return KindAccess
	}
	return ""
}

// CodeOf returns the code of err, or "" for errors that didn't come from the distributor
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, access.ErrUnauthorized) {
		return CodeUnauthorized
	}
	return ""
}
