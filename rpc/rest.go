package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	proxy "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
	"github.com/fedcoord/fedledger/rpc/api"
	"github.com/fedcoord/fedledger/settlement"
)

// IdentityHeader is the HTTP counterpart of api.IdentityMetadataKey.
const IdentityHeader = "X-Ledger-Identity"

const maxBodySize = 1 << 16

// restHandler serves one route. A returned error is rendered by the gateway
// error handler.
type restHandler func(w http.ResponseWriter, r *http.Request, params map[string]string) error

type restRoute struct {
	method  string
	pattern string
	h       restHandler
}

// NewRESTHandler exposes srv as a JSON REST API on a gateway mux. The caller
// identity is taken from IdentityHeader.
//
// When treasury is not nil, the operator can also list and acknowledge
// journaled payouts.
func NewRESTHandler(
	logger *zap.Logger,
	srv api.LedgerServiceServer,
	treasury Treasury,
	operator ledger.Identity,
) (*proxy.ServeMux, error) {
	mux := proxy.NewServeMux(
		proxy.WithIncomingHeaderMatcher(identityHeaderMatcher),
		// Messages are plain structs, not protobufs.
		proxy.WithMarshalerOption(proxy.MIMEWildcard, &proxy.JSONBuiltin{}),
	)

	routes := []restRoute{
		{http.MethodGet, "/v1/info", handle(mux, srv.Info, noBody[api.InfoRequest])},
		{http.MethodPost, "/v1/participants", handle(mux, srv.Register, jsonBody[api.RegisterRequest])},
		{http.MethodGet, "/v1/participants/{id}", handle(mux, srv.Participant,
			func(_ *proxy.ServeMux, _ *http.Request, params map[string]string, in *api.ParticipantRequest) error {
				in.Identity = params["id"]
				return nil
			})},
		{http.MethodPost, "/v1/rounds", handle(mux, srv.StartRound, noBody[api.StartRoundRequest])},
		{http.MethodPost, "/v1/rounds/aggregate", handle(mux, srv.Aggregate, jsonBody[api.AggregateRequest])},
		{http.MethodGet, "/v1/rounds/{round}", handle(mux, srv.GlobalModel,
			func(_ *proxy.ServeMux, _ *http.Request, params map[string]string, in *api.GlobalModelRequest) error {
				round, err := parseRound(params)
				in.Round = round
				return err
			})},
		{http.MethodGet, "/v1/rounds/{round}/updates/{id}", handle(mux, srv.Update,
			func(_ *proxy.ServeMux, _ *http.Request, params map[string]string, in *api.UpdateRequest) error {
				round, err := parseRound(params)
				in.Round = round
				in.Identity = params["id"]
				return err
			})},
		{http.MethodPost, "/v1/updates", handle(mux, srv.SubmitUpdate, jsonBody[api.SubmitUpdateRequest])},
		{http.MethodPost, "/v1/rewards/claim", handle(mux, srv.ClaimRewards, noBody[api.ClaimRewardsRequest])},
		{http.MethodPost, "/v1/backups", handle(mux, srv.Backup, noBody[api.BackupRequest])},
	}
	if treasury != nil {
		t := treasuryHandler{mux: mux, treasury: treasury, operator: operator}
		routes = append(routes,
			restRoute{http.MethodGet, "/v1/payouts", t.pending},
			restRoute{http.MethodPost, "/v1/payouts/{id}/settle", t.settle},
		)
	}

	for _, route := range routes {
		name := route.method + " " + route.pattern
		h := route.h
		err := mux.HandlePath(route.method, route.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			logger := logger.With(zap.String("route", name), zap.Stringer("request_id", uuid.New()))
			logger.Debug("new REST request", zap.String("from", r.RemoteAddr))
			err := serve(logging.NewContext(r.Context(), logger), mux, name, h, w, r, params)
			if err != nil {
				logger.Info("FAILURE", zap.Error(err))
				_, outbound := proxy.MarshalerForRequest(mux, r)
				proxy.HTTPError(r.Context(), mux, outbound, w, r, err)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// serve moves the request headers into incoming metadata the way the gateway
// does for proxied calls, then resolves the caller from it.
func serve(
	ctx context.Context,
	mux *proxy.ServeMux,
	name string,
	h restHandler,
	w http.ResponseWriter,
	r *http.Request,
	params map[string]string,
) error {
	ctx, err := proxy.AnnotateIncomingContext(ctx, mux, r, name)
	if err != nil {
		return err
	}
	ctx, err = identityFromMetadata(ctx)
	if err != nil {
		return err
	}
	return h(w, r.WithContext(ctx), params)
}

func identityHeaderMatcher(key string) (string, bool) {
	if key == IdentityHeader {
		return api.IdentityMetadataKey, true
	}
	return proxy.DefaultHeaderMatcher(key)
}

// Treasury is the operator side of the payout journal.
type Treasury interface {
	Pending(ctx context.Context) ([]settlement.Payout, error)
	MarkSettled(ctx context.Context, id uuid.UUID) error
}

type treasuryHandler struct {
	mux      *proxy.ServeMux
	treasury Treasury
	operator ledger.Identity
}

func (h treasuryHandler) authorize(ctx context.Context) error {
	caller, err := callerFromContext(ctx)
	if err != nil {
		return err
	}
	if caller != h.operator {
		return toStatus(ctx, ledger.ErrNotAuthorized)
	}
	return nil
}

func (h treasuryHandler) pending(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	ctx := r.Context()
	if err := h.authorize(ctx); err != nil {
		return err
	}
	pending, err := h.treasury.Pending(ctx)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	out := api.PayoutsResponse{Payouts: make([]api.Payout, 0, len(pending))}
	for _, p := range pending {
		out.Payouts = append(out.Payouts, api.Payout{
			ID:        p.ID.String(),
			Recipient: ledger.Identity(p.Recipient).String(),
			Amount:    p.Amount,
			CreatedAt: p.CreatedAt,
		})
	}
	return respond(h.mux, w, r, &out)
}

func (h treasuryHandler) settle(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	ctx := r.Context()
	if err := h.authorize(ctx); err != nil {
		return err
	}
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid payout id")
	}
	switch err := h.treasury.MarkSettled(ctx, id); {
	case errors.Is(err, settlement.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, settlement.ErrAlreadySettled):
		return status.Error(codes.AlreadyExists, err.Error())
	case err != nil:
		return status.Error(codes.Internal, err.Error())
	}
	return respond(h.mux, w, r, &api.SettlePayoutResponse{ID: id.String()})
}

type fillFunc[Req any] func(mux *proxy.ServeMux, r *http.Request, params map[string]string, in *Req) error

func handle[Req, Resp any](
	mux *proxy.ServeMux,
	call func(context.Context, *Req) (*Resp, error),
	fill fillFunc[Req],
) restHandler {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) error {
		in := new(Req)
		if err := fill(mux, r, params, in); err != nil {
			return err
		}
		out, err := call(r.Context(), in)
		if err != nil {
			return err
		}
		return respond(mux, w, r, out)
	}
}

func respond(mux *proxy.ServeMux, w http.ResponseWriter, r *http.Request, out any) error {
	_, outbound := proxy.MarshalerForRequest(mux, r)
	buf, err := outbound.Marshal(out)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	w.Header().Set("Content-Type", outbound.ContentType(out))
	if _, err := w.Write(buf); err != nil {
		logging.FromContext(r.Context()).Debug("failed to write response", zap.Error(err))
	}
	return nil
}

func noBody[Req any](*proxy.ServeMux, *http.Request, map[string]string, *Req) error { return nil }

func jsonBody[Req any](mux *proxy.ServeMux, r *http.Request, _ map[string]string, in *Req) error {
	inbound, _ := proxy.MarshalerForRequest(mux, r)
	dec := inbound.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if strict, ok := dec.(interface{ DisallowUnknownFields() }); ok {
		strict.DisallowUnknownFields()
	}
	if err := dec.Decode(in); err != nil && !errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "malformed request body: "+err.Error())
	}
	return nil
}

func parseRound(params map[string]string) (uint64, error) {
	round, err := strconv.ParseUint(params["round"], 10, 64)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, "invalid round number")
	}
	return round, nil
}
