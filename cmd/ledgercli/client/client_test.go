package client_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fedcoord/fedledger/cmd/ledgercli/client"
	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
	"github.com/fedcoord/fedledger/rpc"
	"github.com/fedcoord/fedledger/settlement"
)

var operator = ledger.Identity("operator")

func spawnLedger(t *testing.T) string {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := ledger.DefaultConfig()
	cfg.Quorum = 1
	l, err := ledger.New(logging.NewContext(context.Background(), logger), t.TempDir(), operator, ledger.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	journal, err := settlement.NewJournal(filepath.Join(t.TempDir(), "payouts"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, journal.Close()) })

	gateway, err := rpc.NewRESTHandler(logger, rpc.NewServer(l, journal), journal, operator)
	require.NoError(t, err)
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClientRound(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	url := spawnLedger(t)
	alice := ledger.Identity("alice").String()

	op, err := client.NewHTTPLedgerClient(url, client.WithIdentity(operator.String()), client.WithRetries(0))
	req.NoError(err)
	cl, err := client.NewHTTPLedgerClient(url, client.WithIdentity(alice), client.WithRetries(0))
	req.NoError(err)
	anonymous, err := client.NewHTTPLedgerClient(url, client.WithRetries(0))
	req.NoError(err)

	req.ErrorIs(anonymous.Register(ctx, ledger.DefaultMinStake), client.ErrUnauthenticated)
	req.ErrorIs(cl.Register(ctx, 1), client.ErrInvalidRequest)
	req.NoError(cl.Register(ctx, ledger.DefaultMinStake))
	req.ErrorIs(cl.Register(ctx, ledger.DefaultMinStake), client.ErrConflict)

	_, err = cl.StartRound(ctx)
	req.ErrorIs(err, client.ErrForbidden)
	round, err := op.StartRound(ctx)
	req.NoError(err)
	req.Equal(uint64(1), round)

	req.NoError(cl.SubmitUpdate(ctx, "QmUpdate"))
	upd, err := anonymous.Update(ctx, 1, alice)
	req.NoError(err)
	req.Equal("QmUpdate", upd.Hash)
	req.NoError(op.Aggregate(ctx, "QmGlobal"))

	model, err := anonymous.GlobalModel(ctx, 1)
	req.NoError(err)
	req.Equal("QmGlobal", model.ModelHash)
	_, err = anonymous.GlobalModel(ctx, 2)
	req.ErrorIs(err, client.ErrNotFound)

	p, err := anonymous.Participant(ctx, alice)
	req.NoError(err)
	req.Equal(ledger.DefaultRewardPerUpdate, p.PendingReward)

	claimed, err := cl.ClaimRewards(ctx)
	req.NoError(err)
	req.Equal(ledger.DefaultRewardPerUpdate, claimed.Amount)
	_, err = cl.ClaimRewards(ctx)
	req.ErrorIs(err, client.ErrInvalidRequest)
	req.ErrorContains(err, "no pending rewards")

	payouts, err := op.PendingPayouts(ctx)
	req.NoError(err)
	req.Len(payouts, 1)
	req.Equal(claimed.PayoutID, payouts[0].ID)
	req.NoError(op.SettlePayout(ctx, claimed.PayoutID))
	req.ErrorIs(op.SettlePayout(ctx, claimed.PayoutID), client.ErrConflict)

	info, err := anonymous.Info(ctx)
	req.NoError(err)
	req.Equal("closed", info.Phase)
	req.Equal(uint64(1), info.Participants)
}
