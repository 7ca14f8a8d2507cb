// Command silad serves the SiLA binary transfer services over the framed RPC protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"sila-rpc/binarytransfer"
	"sila-rpc/blob"
	"sila-rpc/config"
	"sila-rpc/grpcx"
	"sila-rpc/logging"
	"sila-rpc/middleware"
	"sila-rpc/registry"
	"sila-rpc/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults apply when empty)")
	listen := flag.String("listen", "", "listen address, overrides server.listen")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "silad: %v\n", err)
			os.Exit(1)
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	logging.Apply(cfg.Log.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, nil); err != nil {
		fmt.Fprintf(os.Stderr, "silad: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is done, then shuts down. ready, when set, receives the bound
// listener address once the server accepts connections.
func run(ctx context.Context, cfg config.Config, ready func(addr string)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.Component("silad")

	store := blob.New(
		blob.WithTTL(cfg.Binary.TTL),
		blob.WithMaxChunkSize(cfg.Binary.MaxChunkBytes),
		blob.WithMaxBytes(cfg.Binary.MaxStoreBytes),
	)

	opts := []server.Option{server.WithMaxBodyLen(uint32(cfg.Server.MaxFrameBytes))}
	if cfg.Registry.Enabled() {
		reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints:   cfg.Registry.Endpoints,
			DialTimeout: cfg.Registry.DialTimeout,
			Prefix:      cfg.Registry.Prefix,
		})
		if err != nil {
			return err
		}
		defer reg.Close()
		ttl := int64(cfg.Registry.TTL / time.Second)
		opts = append(opts, server.WithRegistry(reg, cfg.Server.AdvertiseAddr(), max(ttl, 1)))
	}

	svr := server.NewServer(opts...)
	svr.Use(middleware.LoggingMiddleware(nil))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.RequestTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.RequestTimeout))
	}
	if err := binarytransfer.Register(svr, store); err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	logStartup(log, cfg, l.Addr().String())

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go store.Run(sweepCtx, cfg.Binary.SweepInterval)

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.ServeListener(l) }()

	var gs *grpc.Server
	if cfg.Server.GRPCListen != "" {
		gl, err := net.Listen("tcp", cfg.Server.GRPCListen)
		if err != nil {
			svr.Shutdown(shutdownTimeout)
			return err
		}
		gs = grpc.NewServer(
			grpc.UnaryInterceptor(grpcx.UnaryServerInterceptor()),
			grpc.StreamInterceptor(grpcx.StreamServerInterceptor()),
		)
		grpcx.RegisterBlobServer(gs, &grpcx.StoreServer{Store: store})
		log.Info().Str("addr", gl.Addr().String()).Msg("serving gRPC blob service")
		go func() {
			if err := gs.Serve(gl); err != nil {
				log.Error().Err(err).Msg("gRPC server stopped")
			}
		}()
	}
	if ready != nil {
		ready(l.Addr().String())
	}

	select {
	case err := <-serveErr:
		if gs != nil {
			gs.Stop()
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	if gs != nil {
		gs.GracefulStop()
	}
	if err := svr.Shutdown(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func logStartup(log *zerolog.Logger, cfg config.Config, addr string) {
	log.Info().
		Str("addr", addr).
		Dur("blob_ttl", cfg.Binary.TTL).
		Int("max_chunk_bytes", cfg.Binary.MaxChunkBytes).
		Int64("max_store_bytes", cfg.Binary.MaxStoreBytes).
		Bool("registry", cfg.Registry.Enabled()).
		Msg("silad starting")
}
