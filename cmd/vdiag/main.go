// vdiag is a resilient Vertica diagnostic service: a failover-aware,
// reconfigurable connection pool behind an HTTP API of fixed SQL
// templates for operational triage.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/logger"
	"github.com/opslens/vdiag/internal/metrics"
	"github.com/opslens/vdiag/internal/pool"
	"github.com/opslens/vdiag/internal/query"
	"github.com/opslens/vdiag/internal/server"
	"github.com/opslens/vdiag/internal/templatestore"
	"github.com/opslens/vdiag/internal/vertica"
)

// version is stamped by the build via ldflags.
var version = "dev"

type flags struct {
	configPath string

	listenHost string
	listenPort int

	dbHost        string
	dbPort        int
	dbUser        string
	dbPassword    string
	dbName        string
	dbBackupNodes string
	dbTLSMode     string

	logLevel  string
	logFormat string

	requireDB bool
}

func main() {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "vdiag",
		Short: "Resilient Vertica diagnostic service",
		Long: `vdiag serves a catalog of fixed diagnostic SQL templates over HTTP,
backed by a failover-aware Vertica connection pool that can be
reconfigured at runtime without a restart.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	rootCmd.Flags().StringVar(&f.configPath, "config", "", "config file path (YAML)")
	rootCmd.Flags().StringVar(&f.listenHost, "listen-host", "", "HTTP bind address")
	rootCmd.Flags().IntVar(&f.listenPort, "listen-port", 0, "HTTP bind port")
	rootCmd.Flags().StringVar(&f.dbHost, "db-host", "", "Vertica host")
	rootCmd.Flags().IntVar(&f.dbPort, "db-port", 0, "Vertica port")
	rootCmd.Flags().StringVar(&f.dbUser, "db-user", "", "Vertica user")
	rootCmd.Flags().StringVar(&f.dbPassword, "db-password", "", "Vertica password")
	rootCmd.Flags().StringVar(&f.dbName, "db-name", "", "Vertica database name")
	rootCmd.Flags().StringVar(&f.dbBackupNodes, "db-backup-nodes", "", "failover hosts, host[:port] CSV")
	rootCmd.Flags().StringVar(&f.dbTLSMode, "db-tlsmode", "", "TLS mode (disable, allow, prefer, require, verify-ca, verify-full)")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&f.logFormat, "log-format", "", "log format (json, console)")
	rootCmd.Flags().BoolVar(&f.requireDB, "require-db", false, "exit instead of starting degraded when the initial connectivity check fails")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vdiag:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f *flags) error {
	settings, err := config.LoadSettings(f.configPath)
	if err != nil {
		return err
	}
	applyFlagSettings(cmd, f, settings)

	log := logger.New(&logger.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
	})
	logger.SetGlobal(log)
	server.Version = version

	layers, err := profileLayers(cmd, f)
	if err != nil {
		return err
	}

	profile, err := config.Resolve(layers...)
	if err != nil {
		// The validation error already lists every missing or invalid field.
		return err
	}

	mtr := metrics.New()

	connector := pool.NewConnector(
		vertica.NewDialer(),
		settings.Retry,
		pool.MultiObserver(mtr, logConnectObserver(log)),
		log,
	)
	p := pool.New(connector, profile, settings.PoolSize, settings.AcquireTimeout, log)
	defer p.Close()
	mtr.ObservePool(p)

	gate := pool.NewGate(p, layers, mtr, log)

	catalog, err := loadCatalog(settings, log)
	if err != nil {
		return err
	}
	executor := query.NewExecutor(p, catalog, settings, mtr, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkConnectivity(ctx, p, profile, f.requireDB, log)

	srv := server.New(settings, p, gate, executor, mtr.Handler(), log)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// applyFlagSettings lets explicit flags override the file/env settings.
func applyFlagSettings(cmd *cobra.Command, f *flags, s *config.Settings) {
	if cmd.Flags().Changed("listen-host") {
		s.ListenHost = f.listenHost
	}
	if cmd.Flags().Changed("listen-port") {
		s.ListenPort = f.listenPort
	}
	if cmd.Flags().Changed("log-level") {
		s.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		s.LogFormat = f.logFormat
	}
}

// profileLayers builds the resolver stack, highest precedence first:
// CLI flags, environment, config file, built-in defaults.
func profileLayers(cmd *cobra.Command, f *flags) ([]*config.Overlay, error) {
	cli := &config.Overlay{}
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("db-host", func() { cli.Host = &f.dbHost })
	set("db-port", func() { cli.Port = &f.dbPort })
	set("db-user", func() { cli.User = &f.dbUser })
	set("db-password", func() { cli.Password = &f.dbPassword })
	set("db-name", func() { cli.Database = &f.dbName })
	set("db-tlsmode", func() { cli.TLSMode = &f.dbTLSMode })
	if cmd.Flags().Changed("db-backup-nodes") {
		nodes, err := config.ParseBackupNodes(f.dbBackupNodes, config.DefaultPort)
		if err != nil {
			return nil, err
		}
		cli.SetBackupNodes(nodes)
	}

	env, err := config.EnvOverlay()
	if err != nil {
		return nil, err
	}

	layers := []*config.Overlay{cli, env}

	if f.configPath != "" {
		file, err := config.LoadFile(f.configPath)
		if err != nil {
			return nil, err
		}
		fileLayer, err := file.ProfileOverlay()
		if err != nil {
			return nil, err
		}
		layers = append(layers, fileLayer)
	}

	defaultPort := config.DefaultPort
	layers = append(layers, &config.Overlay{Port: &defaultPort})
	return layers, nil
}

func loadCatalog(settings *config.Settings, log *logger.Logger) (*query.Catalog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src, err := templatestore.FromConfig(ctx, settings.Templates)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return query.Load()
	}
	log.Info("loading template catalog from external source")
	return query.LoadFrom(src)
}

// checkConnectivity probes the database once at startup. Failure starts
// the service degraded so the reconfiguration endpoint stays reachable,
// unless --require-db demands a working database.
func checkConnectivity(ctx context.Context, p *pool.Pool, profile *config.Profile, requireDB bool, log *logger.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		if requireDB {
			log.With().Err(err).Logger().Fatal("initial connectivity check failed")
		}
		log.With().
			Str("profile", profile.Redacted()).
			Err(err).
			Logger().
			Warn("starting degraded: database unreachable; POST /db/configure can repair connectivity at runtime")
		return
	}
	log.With().Str("profile", profile.Redacted()).Logger().Info("database connectivity verified")
}

func logConnectObserver(log *logger.Logger) pool.ConnectObserver {
	attempts := log.Component("connect")
	return pool.ObserverFunc(func(target config.Candidate, attempt int, elapsed time.Duration, err error) {
		line := attempts.With().
			Str("candidate", target.String()).
			Int("attempt", attempt).
			Dur("elapsed", elapsed)
		if err != nil {
			line.Err(err).Logger().Warn("connection attempt failed")
			return
		}
		line.Logger().Debug("connection established")
	})
}
