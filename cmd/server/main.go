package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/cliprelay/internal/logging"
	"github.com/Tyrowin/cliprelay/internal/relay"
	"github.com/Tyrowin/cliprelay/internal/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("cliprelay", cfg.Debug, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("relay stopped with error", zap.Error(err))
		logging.Sync(log)
		os.Exit(1)
	}
	logging.Sync(log)
}

func run(cfg *server.Config, log *zap.Logger) error {
	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	logAuthMode(log, creds, cfg.AllowAnonymous)

	clock := clockwork.NewRealClock()
	opts := cfg.HubOptions(creds)
	opts.Clock = clock
	opts.Logger = log.Named("relay")
	hub := relay.NewHub(opts)

	srv := server.NewServer(cfg, hub, clock, log.Named("http"))
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		srv.RunBackground(gctx)
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
		hubErr := hub.Shutdown(cfg.ShutdownTimeout)
		return errors.Join(httpErr, hubErr)
	})

	log.Info("relay starting",
		zap.String("addr", cfg.Port),
		zap.Duration("heartbeat_interval", cfg.HeartbeatInterval),
		zap.Duration("client_timeout", cfg.ClientTimeout),
		zap.Int("push_rate_limit", cfg.PushRateLimit))
	return g.Wait()
}

func logAuthMode(log *zap.Logger, creds relay.Credentials, allowAnonymous bool) {
	switch {
	case creds.Empty() && allowAnonymous:
		log.Warn("no credentials configured and RELAY_ALLOW_ANONYMOUS is set: authentication is disabled, any client may subscribe and publish")
	case creds.Empty():
		log.Warn("no credentials configured: every subscribe and publish will be rejected until RELAY_TOKEN or ROOM_TOKENS is set")
	default:
		if allowAnonymous {
			log.Warn("RELAY_ALLOW_ANONYMOUS ignored because credentials are configured")
		}
		log.Info("authentication configured",
			zap.Bool("global_token", creds.HasGlobal()),
			zap.Int("room_tokens", creds.RoomCount()))
	}
}
