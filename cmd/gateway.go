// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/keelworks/authgate/pkg/gateway"
	"github.com/keelworks/authgate/pkg/identity"
	"github.com/keelworks/authgate/pkg/logger"
	"github.com/keelworks/authgate/pkg/sigv4"
	"github.com/keelworks/authgate/pkg/sts"
	"github.com/keelworks/authgate/pkg/token"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GatewayServerOpts holds configuration for the gateway server.
type GatewayServerOpts struct {
	IP          string
	Port        int
	MetricsPort int
	LogLevel    string

	// Identity store backend: memory, leveldb, or redis.
	Backend    string
	LevelDBDir string

	// Credential lookup cache.
	CacheSize int
	CacheTTL  time.Duration

	// Signing-key rotation grace period.
	GracePeriod time.Duration
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the authentication gateway",
	Long: `Start an AuthGate gateway that verifies SigV4-signed requests against
the identity store and serves credential minting endpoints.`,
	Run: runGatewayServer,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	f := gatewayCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("port", 8070, "HTTP port for the gateway")
	f.Int("metrics_port", 8075, "HTTP port for metrics and health")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	f.String("identity_backend", "memory", "Identity store backend (memory, leveldb, redis)")
	f.String("leveldb_dir", "/var/lib/authgate/identity", "LevelDB data directory (leveldb backend)")
	f.Int("cache_size", 10000, "Maximum entries in the credential lookup cache")
	f.Duration("cache_ttl", 5*time.Minute, "TTL for credential lookup cache entries")
	f.Duration("token_grace_period", 10*time.Minute, "Grace period for retired signing keys")

	viper.BindPFlags(f)
}

func loadGatewayOpts(cmd *cobra.Command) GatewayServerOpts {
	l := NewFlagLoader(cmd)
	return GatewayServerOpts{
		IP:          l.String("ip"),
		Port:        l.Int("port"),
		MetricsPort: l.Int("metrics_port"),
		LogLevel:    l.String("log_level"),
		Backend:     l.String("identity_backend"),
		LevelDBDir:  l.String("leveldb_dir"),
		CacheSize:   l.Int("cache_size"),
		CacheTTL:    l.Duration("cache_ttl"),
		GracePeriod: l.Duration("token_grace_period"),
	}
}

// signingKeyConfig is one entry under token.keys in the config file.
type signingKeyConfig struct {
	ID      string `mapstructure:"id"`
	Secret  string `mapstructure:"secret"`
	Primary bool   `mapstructure:"primary"`
}

// roleConfig is one entry under roles in the config file.
type roleConfig struct {
	UUID        string   `mapstructure:"uuid"`
	ARN         string   `mapstructure:"arn"`
	TrustPolicy string   `mapstructure:"trust_policy"`
	Policies    []string `mapstructure:"policies"`
}

// principalConfig seeds the memory backend for local development.
type principalConfig struct {
	UUID       string            `mapstructure:"uuid"`
	Login      string            `mapstructure:"login"`
	Account    string            `mapstructure:"account"`
	AccessKeys map[string]string `mapstructure:"access_keys"`
}

func runGatewayServer(cmd *cobra.Command, args []string) {
	loadConfiguration("gateway", false)
	opts := loadGatewayOpts(cmd)

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	backing, err := buildIdentityStore(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open identity store")
	}
	store := identity.NewManagerWithCache(backing, opts.CacheSize, opts.CacheTTL)

	keys, err := buildKeyStore(opts.GracePeriod)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load signing keys")
	}
	snapshot := func() *token.KeyStore { return keys }

	verifier := sigv4.NewVerifier(store, snapshot)

	var stsService *sts.Service
	if !keys.Empty() {
		roles, err := buildRoleStore()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load roles")
		}
		stsConfig := sts.DefaultConfig()
		if viper.IsSet("sts") {
			if err := viper.UnmarshalKey("sts", &stsConfig); err != nil {
				logger.Fatal().Err(err).Msg("failed to parse sts config")
			}
		}
		// Minted credentials go through the uncached writer so they are
		// visible immediately, not after a cache fill.
		stsService = sts.NewService(stsConfig, roles, backing, snapshot)
	}

	handler := gateway.New(verifier, store, stsService)

	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", opts.IP, opts.Port)).
		Str("backend", opts.Backend).
		Bool("sts_enabled", stsService != nil).
		Dur("grace_period", opts.GracePeriod).
		Msg("Starting gateway server")

	serve(opts, handler)
}

func buildIdentityStore(opts GatewayServerOpts) (identity.ReadWriter, error) {
	switch opts.Backend {
	case "leveldb":
		return identity.NewLevelDBStore(opts.LevelDBDir, nil)
	case "redis":
		config := identity.DefaultRedisStoreConfig()
		if viper.IsSet("redis") {
			if err := viper.UnmarshalKey("redis", &config); err != nil {
				return nil, err
			}
		}
		return identity.NewRedisStore(config), nil
	case "memory":
		store := identity.NewMemoryStore()
		if err := seedPrincipals(store); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", opts.Backend)
	}
}

func seedPrincipals(store *identity.MemoryStore) error {
	if !viper.IsSet("principals") {
		return nil
	}
	var configs []principalConfig
	if err := viper.UnmarshalKey("principals", &configs); err != nil {
		return err
	}
	for _, c := range configs {
		err := store.PutPrincipal(context.Background(), &identity.Principal{
			UUID:       c.UUID,
			Login:      c.Login,
			Account:    c.Account,
			AccessKeys: c.AccessKeys,
		})
		if err != nil {
			return err
		}
	}
	logger.Info().Int("count", len(configs)).Msg("Seeded principals from config")
	return nil
}

func buildKeyStore(gracePeriod time.Duration) (*token.KeyStore, error) {
	var configs []signingKeyConfig
	if viper.IsSet("token.keys") {
		if err := viper.UnmarshalKey("token.keys", &configs); err != nil {
			return nil, err
		}
	}

	entries := make([]token.KeyEntry, 0, len(configs))
	for _, c := range configs {
		if c.ID == "" || c.Secret == "" {
			return nil, fmt.Errorf("signing key entries need both id and secret")
		}
		entries = append(entries, token.KeyEntry{
			KeyID:    c.ID,
			Material: []byte(c.Secret),
			Primary:  c.Primary,
			AddedAt:  time.Now(),
		})
	}
	if len(entries) == 0 {
		logger.Warn().Msg("No signing keys configured; session-token verification and minting disabled")
	}
	return token.NewKeyStore(gracePeriod, entries), nil
}

func buildRoleStore() (*sts.MemoryRoleStore, error) {
	store := sts.NewMemoryRoleStore()
	if !viper.IsSet("roles") {
		return store, nil
	}

	var configs []roleConfig
	if err := viper.UnmarshalKey("roles", &configs); err != nil {
		return nil, err
	}
	for _, c := range configs {
		role := &sts.Role{
			UUID:        c.UUID,
			ARN:         c.ARN,
			TrustPolicy: json.RawMessage(c.TrustPolicy),
		}
		for _, p := range c.Policies {
			role.Policies = append(role.Policies, json.RawMessage(p))
		}
		store.PutRole(role)
	}
	logger.Info().Int("count", len(configs)).Msg("Loaded roles from config")
	return store, nil
}

func serve(opts GatewayServerOpts, handler http.Handler) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.IP, opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.IP, opts.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.ListenAndServe() }()
	go func() { errCh <- metricsServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down gateway server")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
}
