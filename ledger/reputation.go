package ledger

import "fmt"

// Multiplier maps a reputation score to a reward multiplier scaled by 100.
func Multiplier(score uint64) uint64 {
	switch {
	case score >= 100:
		return 150
	case score >= 50:
		return 125
	default:
		return 100
	}
}

// bump adds increment to the reputation of id and counts one more
// contribution. Stake and activity are carried over unchanged. The updated
// record is staged in t and returned.
//
// Callers gate on validParticipant, so a missing record means the stored
// state is inconsistent.
func (l *Ledger) bump(t *txn, id Identity, increment uint64) (Participant, error) {
	p, ok, err := l.db.participant(id)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("%w: reputation update for unknown participant %s", ErrInvariant, id)
	}
	next := p
	next.ReputationScore += increment
	next.TotalContributions++
	if err := t.putParticipant(id, next); err != nil {
		return p, err
	}
	return next, nil
}
