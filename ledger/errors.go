package ledger

import (
	"errors"
	"fmt"
)

// Code is the numeric ledger error code reported to callers.
type Code uint32

const (
	CodeNotAuthorized            Code = 100
	CodeAlreadyRegistered        Code = 101
	CodeNotRegistered            Code = 102
	CodeInvalidUpdate            Code = 103
	CodeRoundNotActive           Code = 104
	CodeInsufficientParticipants Code = 105
	CodeAlreadySubmitted         Code = 106
	CodeInvalidStake             Code = 107
	CodeNoRewards                Code = 108
)

// Kind groups codes into the failure classes callers branch on.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindState
	KindDuplicate
	KindValidation
	KindQuorum
	KindBalance
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindDuplicate:
		return "duplicate"
	case KindValidation:
		return "validation"
	case KindQuorum:
		return "quorum"
	case KindBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// Error is a rejected ledger operation. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code Code
	Kind Kind
	msg  string
}

func newError(code Code, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.msg, e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotAuthorized            = newError(CodeNotAuthorized, KindAuthorization, "caller is not authorized")
	ErrAlreadyRegistered        = newError(CodeAlreadyRegistered, KindDuplicate, "participant is already registered")
	ErrNotRegistered            = newError(CodeNotRegistered, KindAuthorization, "participant is not registered or inactive")
	ErrInvalidUpdate            = newError(CodeInvalidUpdate, KindValidation, "invalid update hash")
	ErrRoundNotActive           = newError(CodeRoundNotActive, KindState, "round is not active")
	ErrInsufficientParticipants = newError(CodeInsufficientParticipants, KindQuorum, "quorum not reached")
	ErrAlreadySubmitted         = newError(CodeAlreadySubmitted, KindDuplicate, "update already submitted for this round")
	ErrInvalidStake             = newError(CodeInvalidStake, KindValidation, "stake below minimum")
	ErrNoRewards                = newError(CodeNoRewards, KindBalance, "no pending rewards")

	// errRoundAlreadyActive shares the round-state code; the code set is closed.
	errRoundAlreadyActive = newError(CodeRoundNotActive, KindState, "a round is already active")

	// ErrInvariant is returned when persisted state contradicts itself.
	// It is never part of the normal flow.
	ErrInvariant = errors.New("ledger invariant violated")
)

// KindOf returns the failure class of err, or KindUnknown for errors that
// did not originate from a rejected precondition (storage failures etc).
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnknown
}

// CodeOf returns the ledger code carried by err.
func CodeOf(err error) (Code, bool) {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code, true
	}
	return 0, false
}
