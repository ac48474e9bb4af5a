package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/surety/internal/api"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/simulator"
	"github.com/ppiankov/surety/internal/surety"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveSimulate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the contract HTTP API",
	Long: `Run the contract and expose it over HTTP.

With --simulate, an oracle simulator runs in the same process against the
contract, registering simulator.oracles identities and answering every
status request.`,
	Example: `  surety serve --addr :3000
  surety serve --store sqlite --db ./surety.db --simulate`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"server.addr":       "addr",
			"store.driver":      "store",
			"store.path":        "db",
			"simulator.oracles": "oracles",
		})
	},
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "listen address (default :3000)")
	f.String("store", "", "event log backend: memory or sqlite")
	f.String("db", "", "sqlite database path")
	f.BoolVar(&serveSimulate, "simulate", false, "run the oracle simulator in-process")
	f.Int("oracles", 0, "number of simulated oracles (default 30)")

	rootCmd.AddCommand(serveCmd)
}

// openEventLog opens the configured backend. The returned closer releases it.
func openEventLog(ctx context.Context, cfg model.StoreConfig) (*eventlog.Log, io.Closer, error) {
	switch cfg.Driver {
	case "", "memory":
		return eventlog.NewMemoryLog(), io.NopCloser(nil), nil
	case "sqlite":
		store, err := eventlog.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		log, err := eventlog.Open(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return log, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	params, err := cfg.Protocol.Params()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, closer, err := openEventLog(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if err := events.Verify(ctx); err != nil {
		return fmt.Errorf("event log failed verification: %w", err)
	}

	contract := surety.New(params, surety.Options{Events: events, Logger: log.Named("contract")})
	srv := api.NewServer(contract, cfg.Server.LongPoll, log.Named("api")).HTTPServer(cfg.Server)

	errc := make(chan error, 2)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if serveSimulate {
		policy, err := buildPolicy(cfg)
		if err != nil {
			return err
		}
		sim := simulator.New(cfg.Simulator, simulator.NewLocal(contract), contract.Events(), policy,
			buildCheckpoint(cfg), log.Named("simulator"))
		go func() {
			if err := sim.Run(ctx); err != nil {
				errc <- fmt.Errorf("simulator: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.Error("shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	return err
}
