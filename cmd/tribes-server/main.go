// Command tribes-server starts the tribes gRPC API and the realtime hub.
package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/teatribe/tribes/internal/config"
	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/limiter"
	"github.com/teatribe/tribes/internal/migrate"
	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/notify"
	"github.com/teatribe/tribes/internal/realtime"
	"github.com/teatribe/tribes/internal/repository/postgres"
	grpcserver "github.com/teatribe/tribes/internal/server/grpc"
	"github.com/teatribe/tribes/internal/service"
	"github.com/teatribe/tribes/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves gRPC and the realtime hub
// until SIGINT or SIGTERM.
func main() {
	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	// parse once for --config, then again so flags override the loaded values
	pre := pflag.NewFlagSet("tribes-server", pflag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.StringVar(&configPath, "config", configPath, "YAML config file")
	_ = pre.Parse(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	flags := pflag.NewFlagSet("tribes-server", pflag.ExitOnError)
	flags.String("config", configPath, "YAML config file")
	cfg.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	logger := newLogger(cfg.Environment)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", string(cfg.Environment)),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("http", cfg.HTTPAddr),
	)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	accountRepo := postgres.NewAccountRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	tribeRepo := postgres.NewTribeRepo(db)
	messageRepo := postgres.NewMessageRepo(db)
	lim := limiter.NewPG(db.Pool, cfg.Auth.LimiterWindow, cfg.Auth.LimiterMaxFails, cfg.Auth.LimiterBlock)

	tokens := token.NewManager([]byte(cfg.Auth.JWTKey), cfg.Auth.AccessTTL)
	verifier := crypto.NewVerifier(cfg.Auth.Challenge)

	// Fan-out
	hub := realtime.NewHub(logger.Named("hub"))
	dispatcher := notify.NewDispatcher(hub, tribeRepo, pushSenders(cfg.Notify.APNs, logger),
		cfg.Notify.QueueSize, cfg.Notify.Workers, logger.Named("notify"))
	dispatcher.Start()
	defer dispatcher.Stop()

	// Services
	sessionSvc := service.NewSessionService(accountRepo, sessionRepo, verifier, tokens, lim, dispatcher,
		cfg.Auth.RefreshTTL, logger.Named("sessions"))
	tribeSvc := service.NewTribeService(tribeRepo, accountRepo, dispatcher, model.TribeLimits{
		MaxMembers:          cfg.Tribes.MaxMembers,
		MaxTribesPerAccount: cfg.Tribes.MaxTribesPerAccount,
	}, cfg.Tribes.InviteTTL, logger.Named("tribes"))
	messageSvc := service.NewMessageService(messageRepo, dispatcher, cfg.Messages.TeaDailyCap,
		cfg.Messages.Horizon, logger.Named("messages"))
	tribeSvc.SetEventPoster(messageSvc)
	accountSvc := service.NewAccountService(accountRepo, tribeSvc, logger.Named("accounts"))

	go messageSvc.RunSweeper(ctx, cfg.Messages.SweepInterval)

	// gRPC
	var opts []grpc.ServerOption
	if cfg.TLS.Enabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}
	app := grpcserver.New(sessionSvc, accountSvc, tribeSvc, messageSvc, logger)
	gs, hs := grpcserver.NewGRPCServer(app, tokens, logger, opts...)
	if cfg.Environment == config.Development {
		reflection.Register(gs)
	}

	// Realtime HTTP
	rt := realtime.NewServer(hub, tokens, tribeSvc, accountSvc, logger.Named("realtime"))
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLS.Enabled()))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("realtime listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		gs.Stop()
	}

	logger.Info("shutdown complete")
}

func newLogger(env config.Environment) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == config.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// pushSenders returns the platform senders. Platforms without credentials discard pushes.
func pushSenders(apns config.APNsConfig, log *zap.Logger) map[model.DeviceType]notify.Sender {
	senders := map[model.DeviceType]notify.Sender{
		model.DeviceApple:   notify.Discard{},
		model.DeviceAndroid: notify.Discard{},
	}
	if !apns.Enabled() {
		log.Warn("apns not configured; apple pushes are discarded")
		return senders
	}
	sender, err := notify.NewAPNs(notify.APNsConfig{
		KeyID:      apns.KeyID,
		TeamID:     apns.TeamID,
		BundleID:   apns.BundleID,
		KeyPath:    apns.KeyPath,
		Production: apns.Production,
	})
	if err != nil {
		log.Fatal("apns", zap.Error(err))
	}
	senders[model.DeviceApple] = sender
	return senders
}
