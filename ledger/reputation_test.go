package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBump(t *testing.T) {
	t.Parallel()
	l, err := New(context.Background(), t.TempDir(), Identity("op"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	t.Run("unknown participant", func(t *testing.T) {
		tx := newTxn()
		_, err := l.bump(tx, Identity("ghost"), SubmissionReputation)
		require.ErrorIs(t, err, ErrInvariant)
		require.Zero(t, tx.batch.Len())
	})
	t.Run("preserves stake and activity", func(t *testing.T) {
		require.NoError(t, l.Register(context.Background(), Identity("p"), DefaultMinStake+1))

		tx := newTxn()
		p, err := l.bump(tx, Identity("p"), 40)
		require.NoError(t, err)
		require.Equal(t, Participant{
			Stake:              DefaultMinStake + 1,
			ReputationScore:    50,
			TotalContributions: 1,
			IsActive:           true,
		}, p)

		// staged only
		stored, _, err := l.db.participant(Identity("p"))
		require.NoError(t, err)
		require.Equal(t, InitialReputation, stored.ReputationScore)

		s, err := l.db.status()
		require.NoError(t, err)
		require.NoError(t, l.commit(tx, s))
		stored, _, err = l.db.participant(Identity("p"))
		require.NoError(t, err)
		require.Equal(t, p, stored)
	})
}

func TestCodec(t *testing.T) {
	t.Parallel()
	u := ModelUpdate{UpdateHash: "abc", SubmittedAtHeight: 1 << 40, Verified: true}
	data, err := encodeRecord(&u)
	require.NoError(t, err)
	var decoded ModelUpdate
	require.NoError(t, decodeRecord(data, &decoded))
	require.Equal(t, u, decoded)

	_, err = encodeRecord(&GlobalModel{ModelHash: Hash(make([]byte, MaxHashLen+1))})
	require.Error(t, err)
}

func TestNewHash(t *testing.T) {
	t.Parallel()
	_, err := NewHash("")
	require.ErrorIs(t, err, ErrInvalidUpdate)
	h, err := NewHash("x")
	require.NoError(t, err)
	require.Equal(t, Hash("x"), h)
}

func TestIdentityText(t *testing.T) {
	t.Parallel()
	id := Identity([]byte{1, 2, 3, 250})
	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseIdentity("")
	require.Error(t, err)
	_, err = ParseIdentity("0OIl")
	require.Error(t, err)
}
