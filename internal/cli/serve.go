package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nostrintel/internal/config"
	"nostrintel/internal/intel"
	"nostrintel/internal/mcp"
	"nostrintel/internal/payment"
	"nostrintel/internal/paywall"
	"nostrintel/internal/primal"
	"nostrintel/internal/relay"
	"nostrintel/internal/store"
)

const cacheCleanupInterval = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio or HTTP",
	RunE:  runServe,
}

var (
	serveTransport string
	servePort      int
)

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport: stdio|http (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	setupLogging()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: "+err.Error())
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}
	if servePort > 0 {
		cfg.Server.HTTPPort = servePort
	}
	if cfg.Server.Transport != "stdio" && cfg.Server.Transport != "http" {
		exitWith(ExitConfigInvalid, "ERROR: transport must be stdio or http, got "+cfg.Server.Transport)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.DatabasePath), 0o755); err != nil {
		exitWith(ExitStoreFailure, "ERROR: cannot create cache directory: "+err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(
		cfg.Cache.DatabasePath,
		time.Duration(cfg.Cache.ProfileTTLSeconds)*time.Second,
		time.Duration(cfg.Cache.RelayInfoTTLSeconds)*time.Second,
	)
	if err := st.Init(ctx); err != nil {
		exitWith(ExitStoreFailure, "ERROR: cache store init: "+err.Error())
	}
	defer func() { _ = st.Close() }()

	pool := relay.NewPool(cfg.Relays.Default)
	defer pool.Close()

	deps := mcp.Deps{
		Config: cfg,
		Store:  st,
		Pool:   pool,
		Primal: primal.NewClient(primal.DefaultAPIURL),
		Intel:  intel.NewService(pool, st),
	}

	if cfg.Payment.NWCURL != "" {
		wallet, err := payment.NewNWCClient(cfg.Payment.NWCURL)
		if err != nil {
			exitWith(ExitConfigInvalid, "ERROR: NWC wallet: "+err.Error())
		}
		deps.Gateway = payment.NewInvoiceGateway(wallet)
		logrus.Info("lightning wallet configured via NWC")
	} else {
		logrus.Warn("no NWC wallet configured, paid tools stop at the free tier")
	}
	deps.Gate = paywall.NewGate(st, deps.Gateway, cfg.FreeTier.CallsPerDay, cfg.Payment.InvoiceExpirySeconds)

	if cfg.Payment.EnableL402 && cfg.Payment.L402Secret != "" {
		l402, err := payment.NewL402Manager(cfg.Payment.L402Secret)
		if err != nil {
			exitWith(ExitConfigInvalid, "ERROR: L402: "+err.Error())
		}
		deps.L402 = l402
	}
	if cfg.Payment.EnableX402 {
		logrus.Warn("x402 is advertised but settlement verification is not implemented, payments on that rail are rejected")
	}

	go runCacheCleanup(ctx, st)

	switch cfg.Server.Transport {
	case "stdio":
		logrus.Info("stdio transport started")
		return mcp.NewStdioServer(deps, os.Stdout).Run(ctx, os.Stdin)
	default:
		server := mcp.NewServer(deps)
		err := server.Run(ctx, fmt.Sprintf(":%d", cfg.Server.HTTPPort))
		if err != nil && ctx.Err() == nil {
			exitWith(ExitBindFailure, "ERROR: http server: "+err.Error())
		}
		return nil
	}
}

func runCacheCleanup(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.CleanupExpired(ctx); err != nil {
				logrus.WithError(err).Warn("cache cleanup failed")
			}
		}
	}
}
