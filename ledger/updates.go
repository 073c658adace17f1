package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// SubmitUpdate records caller's model commitment for the active round,
// raises its reputation and credits its reward.
//
// The hash bound is checked before anything else; a malformed hash is
// rejected whatever the round or participant state.
func (l *Ledger) SubmitUpdate(ctx context.Context, caller Identity, updateHash string) (err error) {
	defer func() { observeRejected("submit_update", err) }()
	logger := logging.FromContext(ctx).With(zap.Stringer("participant", caller))

	hash, err := NewHash(updateHash)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.db.status()
	if err != nil {
		return err
	}
	if !s.RoundActive {
		return ErrRoundNotActive
	}
	if _, valid, err := l.validParticipant(caller); err != nil {
		return err
	} else if !valid {
		return ErrNotRegistered
	}
	_, exists, err := l.db.update(s.CurrentRound, caller)
	switch {
	case err != nil:
		return err
	case exists:
		logger.Debug("rejecting second submission", zap.Uint64("round", s.CurrentRound))
		return ErrAlreadySubmitted
	}

	s.Height++
	t := newTxn()
	update := ModelUpdate{
		UpdateHash:        hash,
		SubmittedAtHeight: s.Height,
		Verified:          true,
	}
	if err := t.putUpdate(s.CurrentRound, caller, update); err != nil {
		return err
	}
	s.RoundSubmissionCount++

	p, err := l.bump(t, caller, SubmissionReputation)
	if err != nil {
		return err
	}
	reward, balance, err := l.credit(t, caller, p.ReputationScore)
	if err != nil {
		return err
	}
	if err := l.commit(t, s); err != nil {
		return err
	}

	submissionsMetric.WithLabelValues(roundLabel(s.CurrentRound)).Inc()
	rewardsCreditedMetric.Add(float64(reward))
	logger.Info(
		"accepted update",
		zap.Uint64("round", s.CurrentRound),
		zap.String("hash", string(hash)),
		zap.Uint64("reputation", p.ReputationScore),
		zap.Uint64("reward", reward),
		zap.Uint64("pending", balance),
	)
	return nil
}

// Update returns the commitment id submitted in round, if any.
func (l *Ledger) Update(ctx context.Context, round uint64, id Identity) (ModelUpdate, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.update(round, id)
}

// RoundUpdates returns all commitments of round keyed by submitter.
func (l *Ledger) RoundUpdates(ctx context.Context, round uint64) (map[Identity]ModelUpdate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	updates := make(map[Identity]ModelUpdate)
	err := l.db.roundUpdates(round, func(id Identity, u ModelUpdate) error {
		updates[id] = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}
