package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	grpcmw "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
	"github.com/fedcoord/fedledger/rpc"
	"github.com/fedcoord/fedledger/rpc/api"
	"github.com/fedcoord/fedledger/settlement"
)

type Server struct {
	ledger  *ledger.Ledger
	journal *settlement.Journal
	cfg     Config

	rpcListener     net.Listener
	restListener    net.Listener
	metricsListener net.Listener
}

func listen(raw string) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", raw)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	return l, nil
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	rpcListener, err := listen(cfg.RawRPCListener)
	if err != nil {
		return nil, err
	}
	restListener, err := listen(cfg.RawRESTListener)
	if err != nil {
		rpcListener.Close()
		return nil, err
	}
	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		metricsListener, err = listen(fmt.Sprintf(":%d", *cfg.MetricsPort))
		if err != nil {
			rpcListener.Close()
			restListener.Close()
			return nil, err
		}
	}
	srv := &Server{
		cfg:             cfg,
		rpcListener:     rpcListener,
		restListener:    restListener,
		metricsListener: metricsListener,
	}
	if err := srv.open(ctx); err != nil {
		result := multierror.Append(err, srv.Close(), rpcListener.Close(), restListener.Close())
		if metricsListener != nil {
			result = multierror.Append(result, metricsListener.Close())
		}
		return nil, result
	}
	return srv, nil
}

func (s *Server) open(ctx context.Context) error {
	for _, dir := range []string{s.cfg.DataDir, s.cfg.DbDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	st, err := loadState(ctx, s.cfg.DataDir, s.cfg.Operator)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(s.cfg.DataDir, st); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	s.ledger, err = ledger.New(ctx, s.cfg.DbDir, st.operator(), ledger.WithConfig(s.cfg.Ledger))
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	s.journal, err = settlement.NewJournal(filepath.Join(s.cfg.DbDir, "payouts"))
	if err != nil {
		return fmt.Errorf("creating payout journal: %w", err)
	}
	return nil
}

// Close releases the databases. Call it after Start returns.
func (s *Server) Close() error {
	var result *multierror.Error
	if s.journal != nil {
		result = multierror.Append(result, s.journal.Close())
	}
	if s.ledger != nil {
		result = multierror.Append(result, s.ledger.Close())
	}
	return result.ErrorOrNil()
}

func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Server) Journal() *settlement.Journal {
	return s.journal
}

// GrpcAddr returns the address that server is listening on for GRPC.
func (s *Server) GrpcAddr() net.Addr {
	return s.rpcListener.Addr()
}

// RestAddr returns the address that the REST front end is listening on.
func (s *Server) RestAddr() net.Addr {
	return s.restListener.Addr()
}

// Start serves the gRPC, REST and metrics front ends until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	metrics := grpc_prometheus.NewServerMetrics(
		grpc_prometheus.WithServerHandlingTimeHistogram(
			grpc_prometheus.WithHistogramBuckets(prometheus.ExponentialBuckets(0.001, 2, 16)),
		),
	)

	rpcServer := rpc.NewServer(s.ledger, s.journal)
	gateway, err := rpc.NewRESTHandler(logger.Named("rest"), rpcServer, s.journal, s.ledger.Operator())
	if err != nil {
		return fmt.Errorf("registering REST routes: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(api.Codec{}),
		grpc.UnaryInterceptor(grpcmw.ChainUnaryServer(
			loggerInterceptor(logger),
			rpc.IdentityInterceptor,
			metrics.UnaryServerInterceptor(),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     time.Minute * 120,
			MaxConnectionAge:      time.Minute * 180,
			MaxConnectionAgeGrace: time.Minute * 10,
			Time:                  time.Minute,
			Timeout:               time.Minute * 3,
		}),
	)
	api.RegisterLedgerServiceServer(grpcServer, rpcServer)
	metrics.InitializeMetrics(grpcServer)
	if err := prometheus.Register(metrics); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("registering grpc metrics: %w", err)
		}
	}

	serverGroup.Go(func() error {
		logger.Sugar().Infof("GRPC server listening on %s", s.rpcListener.Addr())
		return grpcServer.Serve(s.rpcListener)
	})

	servers := []*http.Server{{
		Handler:           gateway,
		ReadHeaderTimeout: time.Second * 5,
	}}
	listeners := []net.Listener{s.restListener}
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5})
		listeners = append(listeners, s.metricsListener)
	}
	for i, server := range servers {
		server, l := server, listeners[i]
		serverGroup.Go(func() error {
			logger.Sugar().Infof("HTTP server listening on %s", l.Addr())
			err := server.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	grpcServer.GracefulStop()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
	}
	return nil
}

// loggerInterceptor returns UnaryServerInterceptor handler to log all RPC server incoming requests.
func loggerInterceptor(
	logger *zap.Logger,
) func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger := logger.Named(info.FullMethod).With(zap.Stringer("request_id", uuid.New()))
		ctx = logging.NewContext(ctx, logger)

		if p, ok := peer.FromContext(ctx); ok {
			logger.Debug("new GRPC", zap.Stringer("from", p.Addr), zap.Any("message", req))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Info("FAILURE", zap.Error(err))
		}
		return resp, err
	}
}
