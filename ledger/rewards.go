package ledger

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// Reward returns base scaled by the multiplier of score, rounded down.
func Reward(base, score uint64) uint64 {
	return base * Multiplier(score) / 100
}

// credit stages the reward for a submission by a participant with the given
// (already bumped) score. Balances accumulate across rounds.
func (l *Ledger) credit(t *txn, id Identity, score uint64) (reward, balance uint64, err error) {
	reward = Reward(l.cfg.RewardPerUpdate, score)
	pending, err := l.db.pendingReward(id)
	if err != nil {
		return 0, 0, err
	}
	if pending > math.MaxUint64-reward {
		return 0, 0, fmt.Errorf("%w: pending reward of %s overflows", ErrInvariant, id)
	}
	balance = pending + reward
	if err := t.putReward(id, balance); err != nil {
		return 0, 0, err
	}
	return reward, balance, nil
}

// ClaimRewards withdraws the whole pending balance of caller.
//
// The balance is removed from the ledger and committed before the amount is
// returned, so the caller's settlement can never observe a balance that is
// still claimable.
func (l *Ledger) ClaimRewards(ctx context.Context, caller Identity) (amount uint64, err error) {
	defer func() { observeRejected("claim_rewards", err) }()
	logger := logging.FromContext(ctx).With(zap.Stringer("participant", caller))

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, valid, err := l.validParticipant(caller); err != nil {
		return 0, err
	} else if !valid {
		return 0, ErrNotRegistered
	}
	amount, err = l.db.pendingReward(caller)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNoRewards
	}
	s, err := l.db.status()
	if err != nil {
		return 0, err
	}

	t := newTxn()
	t.deleteReward(caller)
	s.Height++
	if err := l.commit(t, s); err != nil {
		return 0, err
	}

	rewardsClaimedMetric.Add(float64(amount))
	logger.Info("claimed rewards", zap.Uint64("amount", amount), zap.Uint64("height", s.Height))
	return amount, nil
}

// RestoreReward credits amount back to id after a claimed withdrawal could
// not be settled. It is the only operation that raises a balance outside of
// a submission.
func (l *Ledger) RestoreReward(ctx context.Context, id Identity, amount uint64) (err error) {
	defer func() { observeRejected("restore_reward", err) }()
	logger := logging.FromContext(ctx).With(zap.Stringer("participant", id))

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok, err := l.db.participant(id); err != nil {
		return err
	} else if !ok {
		return ErrNotRegistered
	}
	pending, err := l.db.pendingReward(id)
	if err != nil {
		return err
	}
	if pending > math.MaxUint64-amount {
		return fmt.Errorf("%w: pending reward of %s overflows", ErrInvariant, id)
	}
	s, err := l.db.status()
	if err != nil {
		return err
	}

	t := newTxn()
	if err := t.putReward(id, pending+amount); err != nil {
		return err
	}
	s.Height++
	if err := l.commit(t, s); err != nil {
		return err
	}

	rewardsRestoredMetric.Add(float64(amount))
	logger.Warn("restored unsettled rewards", zap.Uint64("amount", amount), zap.Uint64("height", s.Height))
	return nil
}

// PendingReward returns the withdrawable balance of id.
func (l *Ledger) PendingReward(ctx context.Context, id Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.pendingReward(id)
}
