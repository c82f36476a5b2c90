/*
main.go - waqfd entry point

PURPOSE:
  Builds the cobra command tree and wires configuration, storage, the
  optional redis lock and the engine into a waqf.Service shared by every
  subcommand.

COMMANDS:
  waqfd serve     HTTP API plus the periodic maturity sweeper
  waqfd sweep     One maturity sweep, then exit
  waqfd migrate   Create or update the SQLite schema

FLAGS:
  --config   JSON configuration file (default ./waqf.json, optional)
  --memory   Use the in-memory store instead of SQLite

ENVIRONMENT:
  Every config field can be set through WAQF_* variables; see config/config.go.

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/waqf-engine/api"
	"github.com/warp/waqf-engine/config"
	"github.com/warp/waqf-engine/internal/lock"
	"github.com/warp/waqf-engine/store/memory"
	"github.com/warp/waqf-engine/store/sqlite"
	"github.com/warp/waqf-engine/waqf"
)

// backend is what both stores provide.
type backend interface {
	waqf.Repository
	waqf.CauseCatalog
	api.CauseStore
	api.SweepRunStore
}

// app is shared by the subcommands once preRun has filled it.
type app struct {
	cnf     *config.Configuration
	store   backend
	service *waqf.Service
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logrus.WithError(err).Warn("shutdown")
		}
	}
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func newCLI() *cobra.Command {
	var configFile string
	var inMemory bool
	a := &app{}

	root := &cobra.Command{
		Use:           "waqfd",
		Short:         "Waqf endowment allocation and tranche lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "./waqf.json", "configuration file")
	root.PersistentFlags().BoolVar(&inMemory, "memory", false, "use the in-memory store")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := config.InitConfig(configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		a.cnf = cnf
		return a.setup(cmd.Context(), inMemory)
	}
	root.PersistentPostRun = func(*cobra.Command, []string) { a.close() }

	root.AddCommand(serveCommand(a))
	root.AddCommand(sweepCommand(a))
	root.AddCommand(migrateCommand(a))
	return root
}

// setup opens the store and the optional lock and builds the service.
func (a *app) setup(ctx context.Context, inMemory bool) error {
	cnf := a.cnf
	if inMemory {
		a.store = memory.New()
		logrus.Info("using in-memory store")
	} else {
		s, err := sqlite.New(cnf.DataSource.DSN)
		if err != nil {
			return fmt.Errorf("error opening datasource: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		logrus.WithField("dsn", cnf.DataSource.DSN).Info("using sqlite store")
	}

	engine := waqf.NewEngine()
	engine.MinimumPrincipal = cnf.MinimumPrincipal()
	opts := []waqf.Option{
		waqf.WithEngine(engine),
		waqf.WithRetry(cnf.Retry.MaxRetries, cnf.RetryInterval()),
		waqf.WithLogger(logrus.WithField("component", "waqf")),
	}
	if cnf.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cnf.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("error connecting to redis at %s: %w", cnf.Redis.Addr, err)
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, waqf.WithLocker(lock.NewManager(client, lock.WithTimeouts(cnf.LockTTL(), cnf.LockTTL()))))
		logrus.WithField("addr", cnf.Redis.Addr).Info("distributed locking enabled")
	}
	a.service = waqf.NewService(a.store, a.store, opts...)
	return nil
}

func main() {
	defer recoverPanic()

	if err := newCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
