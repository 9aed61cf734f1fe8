package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/urfave/cli/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/config"
	"github.com/cloudfly/chat-relay/internal/coreapi"
	"github.com/cloudfly/chat-relay/internal/handler"
	natsbus "github.com/cloudfly/chat-relay/internal/nats"
	"github.com/cloudfly/chat-relay/internal/redisbus"
	"github.com/cloudfly/chat-relay/internal/service"
	"github.com/cloudfly/chat-relay/internal/socket"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/tracing"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the relay server",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"))
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting relay",
		zap.String("version", Version),
		zap.String("env", cfg.Env),
		zap.String("bus_driver", cfg.BusDriver),
	)

	var tp *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		tp, err = tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		}
	}

	roomBus, closeBus, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}

	var authenticator auth.Authenticator
	if cfg.AuthDevBypass {
		log.Warn("AUTH_DEV_BYPASS is enabled: tokens are not verified", zap.String("env", cfg.Env))
		authenticator = auth.NewDevAuthenticator()
	} else {
		authenticator = auth.NewJWTAuthenticator(cfg.SigningKey())
	}

	api := coreapi.NewClient(cfg.CoreAPIURL, &http.Client{Timeout: cfg.CoreAPITimeout}, log)
	relay := service.NewRelay(roomBus, api, cfg.TypingTimeout, log)
	notifier := service.NewNotifier(roomBus, log)
	sockets := socket.NewServer(roomBus, relay, cfg.AllowedOrigins, log)

	if cfg.NotifySecret == "" {
		log.Warn("NOTIFY_SECRET is empty: all webhook calls will be rejected")
	}

	router := handler.NewRouter(
		handler.RouterConfig{
			AllowedOrigins:  cfg.AllowedOrigins,
			NotifySecret:    cfg.NotifySecret,
			NotifyRateLimit: cfg.NotifyRateLimit,
			WSRateLimit:     cfg.WSRateLimit,
			RateLimitWindow: cfg.RateLimitWindow,
		},
		handler.NewHealthHandler(roomBus, serviceName, Version),
		handler.NewNotifyHandler(notifier, log),
		handler.NewSocketHandler(authenticator, sockets, log),
		log,
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		// One operation so the steps run in order: stop accepting, close
		// sockets, finish background core API calls, then release the bus.
		"relay": func(ctx context.Context) error {
			log.Info("shutting down relay")
			var errs []error
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
			if err := sockets.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("sockets: %w", err))
			}
			if err := waitContext(ctx, relay.Wait); err != nil {
				errs = append(errs, fmt.Errorf("background work: %w", err))
			}
			if err := closeBus(); err != nil {
				errs = append(errs, fmt.Errorf("bus: %w", err))
			}
			return errors.Join(errs...)
		},
		"tracing": func(ctx context.Context) error {
			return tracing.Shutdown(ctx, tp)
		},
	})

	select {
	case code := <-wait:
		log.Info("relay stopped", zap.Int("exit_code", code))
		if code != 0 {
			return cli.Exit("shutdown did not complete cleanly", code)
		}
		return nil
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
		_ = closeBus()
		return err
	}
}

// openBus connects the configured room bus and returns a function that
// releases it.
func openBus(ctx context.Context, cfg *config.Config, log *logger.Logger) (bus.Bus, func() error, error) {
	if cfg.BusDriver == config.BusRedis {
		rb, err := redisbus.Connect(ctx, redisbus.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return rb, rb.Close, nil
	}

	url := cfg.NATSURL
	var embedded *natsbus.EmbeddedServer
	if cfg.NATSEmbedded {
		var err error
		embedded, err = natsbus.StartEmbedded("127.0.0.1", -1)
		if err != nil {
			return nil, nil, err
		}
		url = embedded.ClientURL()
		log.Info("started embedded NATS server", zap.String("url", url))
	}

	client, err := natsbus.Connect(natsbus.Config{
		URL:      url,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     serviceName,
	}, log)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, err
	}
	log.Info("connected to NATS", zap.String("url", client.Conn().ConnectedUrlRedacted()))

	b := natsbus.NewBus(client)
	return b, func() error {
		err := b.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return err
	}, nil
}

func waitContext(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
