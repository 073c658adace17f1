package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// Register enrolls caller with the given stake. The stake is fixed for the
// participant's lifetime.
func (l *Ledger) Register(ctx context.Context, caller Identity, stake uint64) (err error) {
	defer func() { observeRejected("register", err) }()
	logger := logging.FromContext(ctx).With(zap.Stringer("participant", caller))

	if caller == "" {
		return ErrNotAuthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.db.status()
	if err != nil {
		return err
	}
	_, exists, err := l.db.participant(caller)
	switch {
	case err != nil:
		return err
	case exists:
		logger.Debug("rejecting duplicate registration")
		return ErrAlreadyRegistered
	}
	if stake < l.cfg.MinStake {
		logger.Debug("rejecting registration", zap.Uint64("stake", stake), zap.Uint64("min", l.cfg.MinStake))
		return ErrInvalidStake
	}

	p := Participant{
		Stake:           stake,
		ReputationScore: InitialReputation,
		IsActive:        true,
	}
	t := newTxn()
	if err := t.putParticipant(caller, p); err != nil {
		return err
	}
	s.TotalRegisteredParticipants++
	s.Height++
	if err := l.commit(t, s); err != nil {
		return err
	}

	participantsMetric.Set(float64(s.TotalRegisteredParticipants))
	logger.Info("registered participant", zap.Object("record", &p), zap.Uint64("total", s.TotalRegisteredParticipants))
	return nil
}

// validParticipant reports whether id is registered and active.
// A missing record is not an error.
func (l *Ledger) validParticipant(id Identity) (Participant, bool, error) {
	p, ok, err := l.db.participant(id)
	if err != nil || !ok {
		return p, false, err
	}
	return p, p.IsActive, nil
}

// Participant returns the record of id, if registered.
func (l *Ledger) Participant(ctx context.Context, id Identity) (Participant, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.participant(id)
}
