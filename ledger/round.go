package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// StartRound opens the next round. Only the operator may call it, no round
// may be active and at least Quorum participants must be registered.
// Round numbers start at 1 and are never reused.
func (l *Ledger) StartRound(ctx context.Context, caller Identity) (round uint64, err error) {
	defer func() { observeRejected("start_round", err) }()
	logger := logging.FromContext(ctx)

	if caller != l.operator {
		logger.Debug("rejecting round start from non-operator", zap.Stringer("caller", caller))
		return 0, ErrNotAuthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.db.status()
	if err != nil {
		return 0, err
	}
	if s.RoundActive {
		return 0, errRoundAlreadyActive
	}
	if s.TotalRegisteredParticipants < l.cfg.Quorum {
		logger.Debug(
			"not enough participants to start a round",
			zap.Uint64("registered", s.TotalRegisteredParticipants),
			zap.Uint64("quorum", l.cfg.Quorum),
		)
		return 0, ErrInsufficientParticipants
	}

	s.CurrentRound++
	s.RoundActive = true
	s.RoundSubmissionCount = 0
	s.Height++
	if err := l.commit(newTxn(), s); err != nil {
		return 0, err
	}

	roundMetric.Set(float64(s.CurrentRound))
	logger.Info("started round", zap.Uint64("round", s.CurrentRound), zap.Uint64("height", s.Height))
	return s.CurrentRound, nil
}

// Aggregate closes the active round and records its GlobalModel.
func (l *Ledger) Aggregate(ctx context.Context, caller Identity, aggregatedHash string) (err error) {
	defer func() { observeRejected("aggregate", err) }()
	logger := logging.FromContext(ctx)

	if caller != l.operator {
		logger.Debug("rejecting aggregation from non-operator", zap.Stringer("caller", caller))
		return ErrNotAuthorized
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
	if s.RoundSubmissionCount < l.cfg.Quorum {
		logger.Debug(
			"not enough submissions to aggregate",
			zap.Uint64("round", s.CurrentRound),
			zap.Uint64("submissions", s.RoundSubmissionCount),
			zap.Uint64("quorum", l.cfg.Quorum),
		)
		return ErrInsufficientParticipants
	}
	hash, err := NewHash(aggregatedHash)
	if err != nil {
		return err
	}

	s.Height++
	model := GlobalModel{
		ModelHash:          hash,
		ParticipantCount:   s.RoundSubmissionCount,
		AggregatedAtHeight: s.Height,
	}
	t := newTxn()
	if err := t.putGlobalModel(s.CurrentRound, model); err != nil {
		return err
	}
	s.RoundActive = false
	if err := l.commit(t, s); err != nil {
		return err
	}

	submissionsMetric.DeleteLabelValues(roundLabel(s.CurrentRound))
	logger.Info(
		"aggregated round",
		zap.Uint64("round", s.CurrentRound),
		zap.String("model", string(hash)),
		zap.Uint64("participants", model.ParticipantCount),
	)
	return nil
}

// GlobalModel returns the aggregation record of round, if it was closed.
func (l *Ledger) GlobalModel(ctx context.Context, round uint64) (GlobalModel, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.globalModel(round)
}
