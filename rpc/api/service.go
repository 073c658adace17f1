package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	ServiceName = "fedledger.v1.LedgerService"

	// IdentityMetadataKey carries the caller identity authenticated by the
	// fronting auth layer (base58).
	IdentityMetadataKey = "x-ledger-identity"
)

// Codec encodes messages as JSON on the gRPC wire.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

// LedgerServiceServer is the server API for the ledger service.
type LedgerServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	StartRound(context.Context, *StartRoundRequest) (*StartRoundResponse, error)
	SubmitUpdate(context.Context, *SubmitUpdateRequest) (*SubmitUpdateResponse, error)
	Aggregate(context.Context, *AggregateRequest) (*AggregateResponse, error)
	ClaimRewards(context.Context, *ClaimRewardsRequest) (*ClaimRewardsResponse, error)
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	Participant(context.Context, *ParticipantRequest) (*ParticipantResponse, error)
	GlobalModel(context.Context, *GlobalModelRequest) (*GlobalModelResponse, error)
	Update(context.Context, *UpdateRequest) (*UpdateResponse, error)
	Backup(context.Context, *BackupRequest) (*BackupResponse, error)
}

func unary[Req, Resp any](
	name string,
	call func(LedgerServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", LedgerServiceServer.Register),
		unary("StartRound", LedgerServiceServer.StartRound),
		unary("SubmitUpdate", LedgerServiceServer.SubmitUpdate),
		unary("Aggregate", LedgerServiceServer.Aggregate),
		unary("ClaimRewards", LedgerServiceServer.ClaimRewards),
		unary("Info", LedgerServiceServer.Info),
		unary("Participant", LedgerServiceServer.Participant),
		unary("GlobalModel", LedgerServiceServer.GlobalModel),
		unary("Update", LedgerServiceServer.Update),
		unary("Backup", LedgerServiceServer.Backup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fedledger/v1/ledger.json",
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceClient is the client API for the ledger service.
// Calls are authenticated by attaching an identity with WithIdentity.
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc}
}

// WithIdentity returns a context that presents id to the server.
func WithIdentity(ctx context.Context, id string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, IdentityMetadataKey, id)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *LedgerServiceClient) StartRound(ctx context.Context, in *StartRoundRequest, opts ...grpc.CallOption) (*StartRoundResponse, error) {
	return invoke[StartRoundResponse](ctx, c.cc, "StartRound", in, opts)
}

func (c *LedgerServiceClient) SubmitUpdate(ctx context.Context, in *SubmitUpdateRequest, opts ...grpc.CallOption) (*SubmitUpdateResponse, error) {
	return invoke[SubmitUpdateResponse](ctx, c.cc, "SubmitUpdate", in, opts)
}

func (c *LedgerServiceClient) Aggregate(ctx context.Context, in *AggregateRequest, opts ...grpc.CallOption) (*AggregateResponse, error) {
	return invoke[AggregateResponse](ctx, c.cc, "Aggregate", in, opts)
}

func (c *LedgerServiceClient) ClaimRewards(ctx context.Context, in *ClaimRewardsRequest, opts ...grpc.CallOption) (*ClaimRewardsResponse, error) {
	return invoke[ClaimRewardsResponse](ctx, c.cc, "ClaimRewards", in, opts)
}

func (c *LedgerServiceClient) Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoResponse, error) {
	return invoke[InfoResponse](ctx, c.cc, "Info", in, opts)
}

func (c *LedgerServiceClient) Participant(ctx context.Context, in *ParticipantRequest, opts ...grpc.CallOption) (*ParticipantResponse, error) {
	return invoke[ParticipantResponse](ctx, c.cc, "Participant", in, opts)
}

func (c *LedgerServiceClient) GlobalModel(ctx context.Context, in *GlobalModelRequest, opts ...grpc.CallOption) (*GlobalModelResponse, error) {
	return invoke[GlobalModelResponse](ctx, c.cc, "GlobalModel", in, opts)
}

func (c *LedgerServiceClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error) {
	return invoke[UpdateResponse](ctx, c.cc, "Update", in, opts)
}

func (c *LedgerServiceClient) Backup(ctx context.Context, in *BackupRequest, opts ...grpc.CallOption) (*BackupResponse, error) {
	return invoke[BackupResponse](ctx, c.cc, "Backup", in, opts)
}
