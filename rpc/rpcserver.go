package rpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
	"github.com/fedcoord/fedledger/rpc/api"
	"github.com/fedcoord/fedledger/settlement"
)

// rpcServer is a gRPC front end to the ledger.
type rpcServer struct {
	ledger  *ledger.Ledger
	settler settlement.Settler
}

// A compile time check to ensure that rpcServer fully implements
// the LedgerServiceServer gRPC rpc.
var _ api.LedgerServiceServer = (*rpcServer)(nil)

// NewServer creates and returns a new instance of the rpcServer.
func NewServer(l *ledger.Ledger, settler settlement.Settler) *rpcServer {
	return &rpcServer{
		ledger:  l,
		settler: settler,
	}
}

type identityKey struct{}

// IdentityInterceptor moves the caller identity presented in the request
// metadata into the context. Requests without one pass through; methods
// that need a caller reject them.
func IdentityInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	ctx, err := identityFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func identityFromMetadata(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, nil
	}
	values := md.Get(api.IdentityMetadataKey)
	if len(values) == 0 {
		return ctx, nil
	}
	id, err := ledger.ParseIdentity(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return withCaller(ctx, id), nil
}

func withCaller(ctx context.Context, id ledger.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func callerFromContext(ctx context.Context) (ledger.Identity, error) {
	if id, ok := ctx.Value(identityKey{}).(ledger.Identity); ok {
		return id, nil
	}
	return "", status.Error(codes.Unauthenticated, "caller identity is missing")
}

// toStatus maps ledger errors to gRPC statuses. The ledger code is kept in
// the message.
func toStatus(ctx context.Context, err error) error {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) {
		logging.FromContext(ctx).Warn("unknown error in ledger", zap.Error(err))
		return status.Error(codes.Internal, "internal ledger error")
	}
	var code codes.Code
	switch lerr.Kind {
	case ledger.KindAuthorization:
		code = codes.PermissionDenied
	case ledger.KindDuplicate:
		code = codes.AlreadyExists
	case ledger.KindValidation:
		code = codes.InvalidArgument
	case ledger.KindState, ledger.KindQuorum, ledger.KindBalance:
		code = codes.FailedPrecondition
	default:
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}

func (r *rpcServer) Register(ctx context.Context, in *api.RegisterRequest) (*api.RegisterResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.Register(ctx, caller, in.Stake); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &api.RegisterResponse{Identity: caller.String()}, nil
}

func (r *rpcServer) StartRound(ctx context.Context, in *api.StartRoundRequest) (*api.StartRoundResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	round, err := r.ledger.StartRound(ctx, caller)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &api.StartRoundResponse{Round: round}, nil
}

func (r *rpcServer) SubmitUpdate(ctx context.Context, in *api.SubmitUpdateRequest) (*api.SubmitUpdateResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.SubmitUpdate(ctx, caller, in.Hash); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &api.SubmitUpdateResponse{}, nil
}

func (r *rpcServer) Aggregate(ctx context.Context, in *api.AggregateRequest) (*api.AggregateResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.Aggregate(ctx, caller, in.Hash); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &api.AggregateResponse{}, nil
}

// ClaimRewards withdraws the caller's balance and hands it to the settler.
// The ledger balance is already cleared when settlement runs. If settlement
// fails the amount is credited back and the claim reports Unavailable.
func (r *rpcServer) ClaimRewards(ctx context.Context, in *api.ClaimRewardsRequest) (*api.ClaimRewardsResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := r.ledger.ClaimRewards(ctx, caller)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	payout, err := r.settler.Settle(ctx, caller, amount)
	if err != nil {
		logger := logging.FromContext(ctx).With(zap.Stringer("participant", caller), zap.Uint64("amount", amount))
		logger.Warn("settlement failed for claimed rewards", zap.Error(err))
		if err := r.ledger.RestoreReward(ctx, caller, amount); err != nil {
			logger.Error("failed to restore unsettled rewards", zap.Error(err))
			return nil, status.Error(codes.Internal, "settlement failed and rewards could not be restored")
		}
		return nil, status.Error(codes.Unavailable, "settlement unavailable, rewards were restored")
	}
	return &api.ClaimRewardsResponse{Amount: amount, PayoutID: payout.String()}, nil
}

func (r *rpcServer) Info(ctx context.Context, in *api.InfoRequest) (*api.InfoResponse, error) {
	s, err := r.ledger.Status(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	cfg := r.ledger.Config()
	return &api.InfoResponse{
		Operator:        r.ledger.Operator().String(),
		CurrentRound:    s.CurrentRound,
		RoundActive:     s.RoundActive,
		Phase:           s.Phase().String(),
		Participants:    s.TotalRegisteredParticipants,
		Submissions:     s.RoundSubmissionCount,
		Height:          s.Height,
		Quorum:          cfg.Quorum,
		MinStake:        cfg.MinStake,
		RewardPerUpdate: cfg.RewardPerUpdate,
	}, nil
}

func parseIdentity(text string) (ledger.Identity, error) {
	id, err := ledger.ParseIdentity(text)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return id, nil
}

func (r *rpcServer) Participant(ctx context.Context, in *api.ParticipantRequest) (*api.ParticipantResponse, error) {
	id, err := parseIdentity(in.Identity)
	if err != nil {
		return nil, err
	}
	p, ok, err := r.ledger.Participant(ctx, id)
	switch {
	case err != nil:
		return nil, toStatus(ctx, err)
	case !ok:
		return nil, status.Error(codes.NotFound, fmt.Sprintf("participant %s is not registered", id))
	}
	pending, err := r.ledger.PendingReward(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &api.ParticipantResponse{
		Identity:      id.String(),
		Stake:         p.Stake,
		Reputation:    p.ReputationScore,
		Contributions: p.TotalContributions,
		Active:        p.IsActive,
		Multiplier:    ledger.Multiplier(p.ReputationScore),
		PendingReward: pending,
	}, nil
}

func (r *rpcServer) GlobalModel(ctx context.Context, in *api.GlobalModelRequest) (*api.GlobalModelResponse, error) {
	g, ok, err := r.ledger.GlobalModel(ctx, in.Round)
	switch {
	case err != nil:
		return nil, toStatus(ctx, err)
	case !ok:
		return nil, status.Error(codes.NotFound, fmt.Sprintf("round %d is not aggregated", in.Round))
	}
	return &api.GlobalModelResponse{
		Round:              in.Round,
		ModelHash:          string(g.ModelHash),
		ParticipantCount:   g.ParticipantCount,
		TotalStake:         g.TotalStake,
		AggregatedAtHeight: g.AggregatedAtHeight,
	}, nil
}

func (r *rpcServer) Update(ctx context.Context, in *api.UpdateRequest) (*api.UpdateResponse, error) {
	id, err := parseIdentity(in.Identity)
	if err != nil {
		return nil, err
	}
	u, ok, err := r.ledger.Update(ctx, in.Round, id)
	switch {
	case err != nil:
		return nil, toStatus(ctx, err)
	case !ok:
		return nil, status.Error(codes.NotFound, fmt.Sprintf("no update from %s in round %d", id, in.Round))
	}
	return &api.UpdateResponse{
		Hash:              string(u.UpdateHash),
		SubmittedAtHeight: u.SubmittedAtHeight,
		Verified:          u.Verified,
	}, nil
}

func (r *rpcServer) Backup(ctx context.Context, in *api.BackupRequest) (*api.BackupResponse, error) {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	b, err := r.ledger.Backup(ctx, caller)
	switch {
	case errors.Is(err, ledger.ErrBackupsDisabled):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, toStatus(ctx, err)
	}
	return &api.BackupResponse{Path: b.Path, Height: b.Height, Keys: b.Keys}, nil
}
