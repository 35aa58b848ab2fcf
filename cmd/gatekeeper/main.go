package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/gatekeeper/adapters/cookie"
	"github.com/layer-3/gatekeeper/adapters/events"
	"github.com/layer-3/gatekeeper/adapters/identity"
	"github.com/layer-3/gatekeeper/adapters/store"
	"github.com/layer-3/gatekeeper/adapters/tokenizer"
	"github.com/layer-3/gatekeeper/config"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/layer-3/gatekeeper/service"
	transport "github.com/layer-3/gatekeeper/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Wallet sign-in, session gate and gasless relay",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to gatekeeper.yaml")

	cmd.AddCommand(newServeCmd(&configFile), newIdentitiesCmd(&configFile))
	return cmd
}

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, *configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, newLogger(os.Stdout, cfg.LogLevel))
		},
	}

	cmd.Flags().String("listen", ":9000", "address to listen on")
	cmd.Flags().String("network", config.NetworkMainnet, "network mode: mainnet or testnet")
	cmd.Flags().String("log_level", "info", "log level: debug, info, warn or error")
	cmd.Flags().String("upstream", "", "page renderer that gated requests are proxied to")
	return cmd
}

// newIdentitiesCmd prints the addresses derived from the relay keys so they can be funded.
func newIdentitiesCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "Print the relay signer and submitter addresses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, *configFile)
			if err != nil {
				return err
			}
			if !cfg.RelayEnabled() {
				return identity.ErrNoSecret
			}

			signer, err := identity.NewKeySigner(strings.TrimSpace(cfg.Relay.SignerKey))
			if err != nil {
				return err
			}
			submitter, err := identity.NewKeySigner(submitterKey(cfg.Relay))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signer:    %s\nsubmitter: %s\nchain id:  %d\n",
				signer.Address().Hex(), submitter.Address().Hex(), cfg.Relay.ChainID)
			return nil
		},
	}
}

func submitterKey(cfg config.RelayConfig) string {
	if key := strings.TrimSpace(cfg.SubmitterKey); key != "" {
		return key
	}
	return strings.TrimSpace(cfg.SignerKey)
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	sealer, err := tokenizer.NewJWTSealer(cfg.Session.Secret)
	if err != nil {
		return err
	}
	sessions := cookie.NewStore(sealer, cookie.Options{
		Name:   cfg.Session.CookieName,
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.Secure,
		MaxAge: cfg.Session.TTL,
	}, log)

	nonces, eventPub, closeBroker, err := newLedger(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	signer, submitter, closeChain, err := newIdentities(ctx, cfg.Relay, log)
	if err != nil {
		return err
	}
	defer closeChain()

	authService := service.NewAuthService(sessions, nonces, eventPub, log, service.AuthOptions{
		Domain:     cfg.Auth.Domain,
		ChainIDs:   cfg.Auth.ChainIDs,
		NonceTTL:   cfg.Auth.NonceTTL,
		SessionTTL: cfg.Session.TTL,
	})
	relayService := service.NewRelayService(signer, submitter, eventPub, log).WithTimeout(cfg.Relay.Timeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := transport.NewMetrics(registry)

	routerCfg := transport.RouterConfig{
		Gate:   transport.GateConfig{Prefixes: cfg.Gate.Prefixes, LoginPath: cfg.Gate.LoginPath},
		Locale: transport.LocaleConfig{Prefix: cfg.Docs.Prefix, Locales: cfg.Docs.Locales},
	}
	if cfg.Upstream != "" {
		if routerCfg.Upstream, err = url.Parse(cfg.Upstream); err != nil {
			return fmt.Errorf("invalid upstream: %w", err)
		}
	}
	router := transport.SetupRouter(authService, relayService, sessions, metrics, log, routerCfg)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listening", "addr", cfg.Listen, "network", cfg.Network, "relay", relayService.Available())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLedger picks the nonce ledger and event broker. Without redis both stay in process.
func newLedger(cfg config.RedisConfig, log *slog.Logger) (ports.NonceStore, ports.EventPublisher, func(), error) {
	if cfg.URL == "" {
		log.Warn("redis.disabled", "reason", "redis.url not set, nonces are kept in memory")
		return store.NewMemoryStore(), events.Discard{}, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewSlogLogger(log),
	)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	closeFn := func() {
		_ = publisher.Close()
		_ = redisClient.Close()
	}
	return store.NewRedisStore(redisClient), events.NewWatermillPublisher(publisher), closeFn, nil
}

// newIdentities builds the relay identities. A missing signer key leaves both nil,
// which the relay reports as unavailable.
func newIdentities(ctx context.Context, cfg config.RelayConfig, log *slog.Logger) (ports.SignerIdentity, ports.SubmitterIdentity, func(), error) {
	if !cfg.Enabled() {
		log.Warn("relay.disabled", "reason", "relay.signer_key not set")
		return nil, nil, func() {}, nil
	}

	signer, err := identity.NewKeySigner(strings.TrimSpace(cfg.SignerKey))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("signer identity: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	submitter, err := identity.NewChainSubmitter(submitterKey(cfg), cfg.ChainID, common.HexToAddress(cfg.CommentManager), client)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("submitter identity: %w", err)
	}

	log.Info("relay.configured",
		"signer", signer.Address().Hex(),
		"submitter", submitter.Address().Hex(),
		"chain_id", cfg.ChainID,
		"shared_key", strings.TrimSpace(cfg.SubmitterKey) == "",
	)
	return signer, submitter, client.Close, nil
}
