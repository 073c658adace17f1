package ledger

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"go.uber.org/zap/zapcore"
)

// MaxHashLen is the upper bound, in bytes, of a stored model hash.
const MaxHashLen = 64

// Identity is an opaque, already-authenticated caller principal.
// Its textual form is base58.
type Identity string

var errEmptyIdentity = errors.New("empty identity")

func ParseIdentity(text string) (Identity, error) {
	if text == "" {
		return "", errEmptyIdentity
	}
	raw, err := base58.Decode(text)
	if err != nil {
		return "", fmt.Errorf("decoding identity %q: %w", text, err)
	}
	if len(raw) == 0 {
		return "", errEmptyIdentity
	}
	return Identity(raw), nil
}

func (id Identity) String() string {
	return base58.Encode([]byte(id))
}

func (id Identity) Bytes() []byte {
	return []byte(id)
}

// Hash is a model commitment of 1 to MaxHashLen bytes.
// The ledger stores it verbatim and never interprets it.
type Hash string

// NewHash validates the length bound. Out of range values are rejected,
// never truncated.
func NewHash(s string) (Hash, error) {
	if len(s) == 0 || len(s) > MaxHashLen {
		return "", fmt.Errorf("%w: length %d not in [1, %d]", ErrInvalidUpdate, len(s), MaxHashLen)
	}
	return Hash(s), nil
}

type Participant struct {
	Stake              uint64
	ReputationScore    uint64
	TotalContributions uint64
	IsActive           bool
}

func (p *Participant) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("stake", p.Stake)
	enc.AddUint64("reputation", p.ReputationScore)
	enc.AddUint64("contributions", p.TotalContributions)
	enc.AddBool("active", p.IsActive)
	return nil
}

type ModelUpdate struct {
	UpdateHash        Hash
	SubmittedAtHeight uint64
	// Verified is set on creation. No verification step exists.
	Verified bool
}

type GlobalModel struct {
	ModelHash        Hash
	ParticipantCount uint64
	// TotalStake is always recorded as 0; per-round stake is not accumulated.
	TotalStake         uint64
	AggregatedAtHeight uint64
}

// RoundPhase is derived from the persisted scalars.
type RoundPhase uint8

const (
	// PhaseIdle: no round has ever been started.
	PhaseIdle RoundPhase = iota
	// PhaseActive: the current round accepts submissions.
	PhaseActive
	// PhaseClosed: the current round was aggregated, waiting for the next one.
	PhaseClosed
)

func (p RoundPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("RoundPhase(%d)", uint8(p))
	}
}

// Status is a snapshot of the ledger scalars.
type Status struct {
	CurrentRound                uint64
	RoundActive                 bool
	TotalRegisteredParticipants uint64
	RoundSubmissionCount        uint64
	Height                      uint64
}

func (s Status) Phase() RoundPhase {
	switch {
	case s.RoundActive:
		return PhaseActive
	case s.CurrentRound == 0:
		return PhaseIdle
	default:
		return PhaseClosed
	}
}

func (s Status) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("round", s.CurrentRound)
	enc.AddString("phase", s.Phase().String())
	enc.AddUint64("participants", s.TotalRegisteredParticipants)
	enc.AddUint64("submissions", s.RoundSubmissionCount)
	enc.AddUint64("height", s.Height)
	return nil
}
