package ledger_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
)

const operator = ledger.Identity("operator")

var (
	alice = ledger.Identity("alice")
	bob   = ledger.Identity("bob")
	carol = ledger.Identity("carol")
	dave  = ledger.Identity("dave")
)

func newTestLedger(t *testing.T, opts ...func(*ledger.Config)) *ledger.Ledger {
	t.Helper()
	cfg := ledger.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	l, err := ledger.New(testContext(t), t.TempDir(), operator, ledger.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func registerAll(t *testing.T, l *ledger.Ledger, ids ...ledger.Identity) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, l.Register(testContext(t), id, ledger.DefaultMinStake))
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	t.Run("creates participant record", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)

		require.NoError(t, l.Register(ctx, alice, ledger.DefaultMinStake+5))

		p, ok, err := l.Participant(ctx, alice)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ledger.Participant{
			Stake:              ledger.DefaultMinStake + 5,
			ReputationScore:    10,
			TotalContributions: 0,
			IsActive:           true,
		}, p)

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.TotalRegisteredParticipants)
	})
	t.Run("second registration is a duplicate", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)

		require.NoError(t, l.Register(ctx, alice, ledger.DefaultMinStake))
		err := l.Register(ctx, alice, ledger.DefaultMinStake*2)
		require.ErrorIs(t, err, ledger.ErrAlreadyRegistered)
		require.Equal(t, ledger.KindDuplicate, ledger.KindOf(err))

		p, _, err := l.Participant(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, ledger.DefaultMinStake, p.Stake)

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.TotalRegisteredParticipants)
	})
	t.Run("stake below minimum", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)

		for _, stake := range []uint64{0, 1, ledger.DefaultMinStake / 2, ledger.DefaultMinStake - 1} {
			err := l.Register(ctx, alice, stake)
			require.ErrorIs(t, err, ledger.ErrInvalidStake)
			require.Equal(t, ledger.KindValidation, ledger.KindOf(err))
		}
		_, ok, err := l.Participant(ctx, alice)
		require.NoError(t, err)
		require.False(t, ok)

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Zero(t, s.TotalRegisteredParticipants)
		require.Zero(t, s.Height)
	})
	t.Run("empty identity", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		require.ErrorIs(t, l.Register(testContext(t), "", ledger.DefaultMinStake), ledger.ErrNotAuthorized)
	})
}

func TestStartRound(t *testing.T) {
	t.Parallel()
	t.Run("only operator", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		registerAll(t, l, alice, bob, carol)

		_, err := l.StartRound(testContext(t), alice)
		require.ErrorIs(t, err, ledger.ErrNotAuthorized)
		require.Equal(t, ledger.KindAuthorization, ledger.KindOf(err))
	})
	t.Run("requires quorum of participants", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)

		for _, id := range []ledger.Identity{alice, bob} {
			_, err := l.StartRound(ctx, operator)
			require.ErrorIs(t, err, ledger.ErrInsufficientParticipants)
			require.Equal(t, ledger.KindQuorum, ledger.KindOf(err))
			registerAll(t, l, id)
		}
		_, err := l.StartRound(ctx, operator)
		require.ErrorIs(t, err, ledger.ErrInsufficientParticipants)

		registerAll(t, l, carol)
		round, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		require.Equal(t, uint64(1), round)
	})
	t.Run("rejects while active", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)

		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		_, err = l.StartRound(ctx, operator)
		require.ErrorIs(t, err, ledger.ErrRoundNotActive)
		require.Equal(t, ledger.KindState, ledger.KindOf(err))

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.CurrentRound)
		require.Equal(t, ledger.PhaseActive, s.Phase())
	})
}

func TestSubmitUpdate(t *testing.T) {
	t.Parallel()
	t.Run("invalid hash is rejected in any state", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		tooLong := strings.Repeat("a", ledger.MaxHashLen+1)

		// idle ledger, unknown caller
		for _, h := range []string{"", tooLong} {
			err := l.SubmitUpdate(ctx, dave, h)
			require.ErrorIs(t, err, ledger.ErrInvalidUpdate)
			require.Equal(t, ledger.KindValidation, ledger.KindOf(err))
		}

		// active round, registered caller
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		for _, h := range []string{"", tooLong} {
			require.ErrorIs(t, l.SubmitUpdate(ctx, alice, h), ledger.ErrInvalidUpdate)
		}

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Zero(t, s.RoundSubmissionCount)
	})
	t.Run("hash of maximal length", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)

		hash := strings.Repeat("f", ledger.MaxHashLen)
		require.NoError(t, l.SubmitUpdate(ctx, alice, hash))

		u, ok, err := l.Update(ctx, 1, alice)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ledger.Hash(hash), u.UpdateHash)
		require.True(t, u.Verified)
	})
	t.Run("requires active round", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		registerAll(t, l, alice)
		require.ErrorIs(t, l.SubmitUpdate(testContext(t), alice, "hash"), ledger.ErrRoundNotActive)
	})
	t.Run("requires registration", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)

		err = l.SubmitUpdate(ctx, dave, "hash")
		require.ErrorIs(t, err, ledger.ErrNotRegistered)
		reward, err := l.PendingReward(ctx, dave)
		require.NoError(t, err)
		require.Zero(t, reward)
	})
	t.Run("one update per round", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)

		require.NoError(t, l.SubmitUpdate(ctx, alice, "first"))
		err = l.SubmitUpdate(ctx, alice, "second")
		require.ErrorIs(t, err, ledger.ErrAlreadySubmitted)
		require.Equal(t, ledger.KindDuplicate, ledger.KindOf(err))

		u, _, err := l.Update(ctx, 1, alice)
		require.NoError(t, err)
		require.Equal(t, ledger.Hash("first"), u.UpdateHash)

		p, _, err := l.Participant(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(15), p.ReputationScore)
		require.Equal(t, uint64(1), p.TotalContributions)

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.RoundSubmissionCount)
	})
	t.Run("updates reputation and rewards", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)

		require.NoError(t, l.SubmitUpdate(ctx, alice, "hash"))

		p, _, err := l.Participant(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, ledger.Participant{
			Stake:              ledger.DefaultMinStake,
			ReputationScore:    15,
			TotalContributions: 1,
			IsActive:           true,
		}, p)

		reward, err := l.PendingReward(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(100_000), reward)

		u, ok, err := l.Update(ctx, 1, alice)
		require.NoError(t, err)
		require.True(t, ok)
		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, s.Height, u.SubmittedAtHeight)
	})
}

func TestAggregate(t *testing.T) {
	t.Parallel()
	setup := func(t *testing.T) *ledger.Ledger {
		l := newTestLedger(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(testContext(t), operator)
		require.NoError(t, err)
		return l
	}
	t.Run("only operator", func(t *testing.T) {
		t.Parallel()
		l := setup(t)
		require.ErrorIs(t, l.Aggregate(testContext(t), alice, "model"), ledger.ErrNotAuthorized)
	})
	t.Run("requires active round", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		require.ErrorIs(t, l.Aggregate(testContext(t), operator, "model"), ledger.ErrRoundNotActive)
	})
	t.Run("requires quorum of submissions", func(t *testing.T) {
		t.Parallel()
		l := setup(t)
		ctx := testContext(t)
		require.NoError(t, l.SubmitUpdate(ctx, alice, "a"))
		require.NoError(t, l.SubmitUpdate(ctx, bob, "b"))

		err := l.Aggregate(ctx, operator, "model")
		require.ErrorIs(t, err, ledger.ErrInsufficientParticipants)
		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.True(t, s.RoundActive)
	})
	t.Run("invalid hash", func(t *testing.T) {
		t.Parallel()
		l := setup(t)
		ctx := testContext(t)
		for _, id := range []ledger.Identity{alice, bob, carol} {
			require.NoError(t, l.SubmitUpdate(ctx, id, "h"))
		}
		require.ErrorIs(t, l.Aggregate(ctx, operator, ""), ledger.ErrInvalidUpdate)
		require.ErrorIs(t, l.Aggregate(ctx, operator, strings.Repeat("x", 65)), ledger.ErrInvalidUpdate)

		_, ok, err := l.GlobalModel(ctx, 1)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestRoundLifecycle(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	ctx := testContext(t)
	registerAll(t, l, alice, bob, carol, dave)

	s, err := l.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseIdle, s.Phase())

	round, err := l.StartRound(ctx, operator)
	require.NoError(t, err)
	require.Equal(t, uint64(1), round)

	for _, id := range []ledger.Identity{alice, bob, carol} {
		require.NoError(t, l.SubmitUpdate(ctx, id, "0123456789"))
	}
	s, err = l.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), s.RoundSubmissionCount)

	require.NoError(t, l.Aggregate(ctx, operator, "abcdefabcdef"))

	model, ok, err := l.GlobalModel(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ledger.Hash("abcdefabcdef"), model.ModelHash)
	require.Equal(t, uint64(3), model.ParticipantCount)
	require.Zero(t, model.TotalStake)

	s, err = l.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseClosed, s.Phase())
	require.Equal(t, s.Height, model.AggregatedAtHeight)

	require.ErrorIs(t, l.SubmitUpdate(ctx, dave, "0123456789"), ledger.ErrRoundNotActive)

	updates, err := l.RoundUpdates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	require.NotContains(t, updates, dave)

	t.Run("next round", func(t *testing.T) {
		round, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		require.Equal(t, uint64(2), round)

		s, err := l.Status(ctx)
		require.NoError(t, err)
		require.Zero(t, s.RoundSubmissionCount)

		// a participant of round 1 may submit again
		require.NoError(t, l.SubmitUpdate(ctx, alice, "round-2"))
		u, ok, err := l.Update(ctx, 1, alice)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ledger.Hash("0123456789"), u.UpdateHash)

		// round 1 is immutable
		model, _, err := l.GlobalModel(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, uint64(3), model.ParticipantCount)
	})
}

func TestMultiplier(t *testing.T) {
	t.Parallel()
	for score, want := range map[uint64]uint64{
		0: 100, 10: 100, 49: 100,
		50: 125, 75: 125, 99: 125,
		100: 150, 150: 150,
	} {
		require.Equal(t, want, ledger.Multiplier(score), "score %d", score)
	}
}

func TestReward(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint64(100_000), ledger.Reward(ledger.DefaultRewardPerUpdate, 10))
	require.Equal(t, uint64(125_000), ledger.Reward(ledger.DefaultRewardPerUpdate, 60))
	require.Equal(t, uint64(150_000), ledger.Reward(ledger.DefaultRewardPerUpdate, 120))
	require.Equal(t, uint64(1), ledger.Reward(1, 60))
}

func TestClaimRewards(t *testing.T) {
	t.Parallel()
	t.Run("requires registration", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		_, err := l.ClaimRewards(testContext(t), alice)
		require.ErrorIs(t, err, ledger.ErrNotRegistered)
	})
	t.Run("nothing to claim", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		registerAll(t, l, alice)
		_, err := l.ClaimRewards(testContext(t), alice)
		require.ErrorIs(t, err, ledger.ErrNoRewards)
		require.Equal(t, ledger.KindBalance, ledger.KindOf(err))
	})
	t.Run("claims once", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t)
		ctx := testContext(t)
		registerAll(t, l, alice, bob, carol)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		require.NoError(t, l.SubmitUpdate(ctx, alice, "hash"))

		amount, err := l.ClaimRewards(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, uint64(100_000), amount)

		pending, err := l.PendingReward(ctx, alice)
		require.NoError(t, err)
		require.Zero(t, pending)

		_, err = l.ClaimRewards(ctx, alice)
		require.ErrorIs(t, err, ledger.ErrNoRewards)
	})
	t.Run("restored balance can be claimed again", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t, func(c *ledger.Config) { c.Quorum = 1 })
		ctx := testContext(t)
		registerAll(t, l, alice)
		_, err := l.StartRound(ctx, operator)
		require.NoError(t, err)
		require.NoError(t, l.SubmitUpdate(ctx, alice, "hash"))

		amount, err := l.ClaimRewards(ctx, alice)
		require.NoError(t, err)
		before, err := l.Status(ctx)
		require.NoError(t, err)

		require.ErrorIs(t, l.RestoreReward(ctx, bob, amount), ledger.ErrNotRegistered)
		require.NoError(t, l.RestoreReward(ctx, alice, amount))

		after, err := l.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, before.Height+1, after.Height)
		pending, err := l.PendingReward(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, amount, pending)

		again, err := l.ClaimRewards(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, amount, again)
	})
	t.Run("balance accumulates across rounds", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(t, func(c *ledger.Config) { c.Quorum = 1 })
		ctx := testContext(t)
		registerAll(t, l, alice)

		// scores 15..45 earn 1.00x, 50 and 55 earn 1.25x
		var want uint64
		for i := 0; i < 9; i++ {
			_, err := l.StartRound(ctx, operator)
			require.NoError(t, err)
			require.NoError(t, l.SubmitUpdate(ctx, alice, "hash"))
			require.NoError(t, l.Aggregate(ctx, operator, "model"))

			p, _, err := l.Participant(ctx, alice)
			require.NoError(t, err)
			want += ledger.Reward(ledger.DefaultRewardPerUpdate, p.ReputationScore)
		}
		require.Equal(t, uint64(7*100_000+2*125_000), want)

		amount, err := l.ClaimRewards(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, want, amount)
	})
}

func TestReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := testContext(t)
	{
		l, err := ledger.New(ctx, dir, operator)
		require.NoError(t, err)
		registerAll(t, l, alice, bob, carol)
		_, err = l.StartRound(ctx, operator)
		require.NoError(t, err)
		require.NoError(t, l.SubmitUpdate(ctx, alice, "hash"))
		require.NoError(t, l.Close())
	}

	l, err := ledger.New(ctx, dir, operator)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	s, err := l.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.CurrentRound)
	require.True(t, s.RoundActive)
	require.Equal(t, uint64(3), s.TotalRegisteredParticipants)
	require.Equal(t, uint64(1), s.RoundSubmissionCount)

	require.ErrorIs(t, l.SubmitUpdate(ctx, alice, "again"), ledger.ErrAlreadySubmitted)
	require.NoError(t, l.SubmitUpdate(ctx, bob, "hash"))

	pending, err := l.PendingReward(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000), pending)
}

func TestNewRequiresOperator(t *testing.T) {
	t.Parallel()
	_, err := ledger.New(context.Background(), t.TempDir(), "")
	require.Error(t, err)
}

func TestNewRejectsZeroQuorum(t *testing.T) {
	t.Parallel()
	cfg := ledger.DefaultConfig()
	cfg.Quorum = 0
	_, err := ledger.New(context.Background(), t.TempDir(), operator, ledger.WithConfig(cfg))
	require.ErrorContains(t, err, "quorum")
}
