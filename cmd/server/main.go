package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SadaleNet/esun-sate/internal/adapter/handler"
	"github.com/SadaleNet/esun-sate/internal/platform/config"
	"github.com/SadaleNet/esun-sate/internal/platform/logging"
)

type rootOptions struct {
	configPath string
	imageDir   string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "esun-sate",
		Short:         "Order intake and stock ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.imageDir, "images", "", "directory holding the challenge images (<name>.jpg)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), opts)
		},
	}

	cmd.AddCommand(serveCmd, migrateCmd)
	return cmd
}

func loadConfig(opts *rootOptions) (config.Config, *zap.Logger, error) {
	path := opts.configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func migrate(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ledger, err := openLedger(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if err := ledger.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied", zap.String("driver", ledger.Dialect()))
	return nil
}

func serve(parent context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	authorizer := handler.NewTokenAuthorizer(cfg.Security.AdminToken)

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.AdminInterceptor(authorizer)))
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(app.orders, app.inventory, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(app.orders, app.inventory, cfg.Catalog,
		handler.WithAuthorizer(authorizer),
		handler.WithImageDir(opts.imageDir),
		handler.WithTrustedProxy(cfg.Server.TrustProxyHeaders),
		handler.WithLogger(logger),
	)
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return serveErr
}
