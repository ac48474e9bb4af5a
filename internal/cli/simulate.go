package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/surety/internal/api"
	"github.com/ppiankov/surety/internal/cache"
	"github.com/ppiankov/surety/internal/feed"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/simulator"
	"github.com/ppiankov/surety/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultEndpoint = "http://localhost:3000"

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run oracle nodes against a remote contract",
	Long: `Register a pool of oracle identities with a running 'surety serve' and
answer every status request broadcast on its event stream.

The answer is chosen by the policy: a fixed status code, a random code per
oracle, or the answer of an external flight-status feed. With a checkpoint
directory, a restarted simulator resumes after the last handled event and
reuses its registered identities.`,
	Example: `  surety simulate --endpoint http://localhost:3000 --oracles 20
  surety simulate --policy random --checkpoint-dir ~/.surety/sim
  surety simulate --policy feed --feed-url http://flights.local/status`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"simulator.endpoint":       "endpoint",
			"simulator.oracles":        "oracles",
			"simulator.policy":         "policy",
			"simulator.feed_url":       "feed-url",
			"simulator.checkpoint_dir": "checkpoint-dir",
		})
	},
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.String("endpoint", "", "contract API base URL (default "+defaultEndpoint+")")
	f.Int("oracles", 0, "number of oracle identities (default 30)")
	f.String("policy", "", "answer policy: fixed, random or feed")
	f.String("status-code", "", "status code for the fixed policy (number or name)")
	f.String("feed-url", "", "flight-status feed URL for the feed policy")
	f.String("checkpoint-dir", "", "directory for the resume checkpoint")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if raw, _ := cmd.Flags().GetString("status-code"); raw != "" {
		code, err := model.ParseStatusCode(raw)
		if err != nil {
			return err
		}
		cfg.Simulator.StatusCode = int(code)
	}
	if cfg.Simulator.Endpoint == "" {
		cfg.Simulator.Endpoint = defaultEndpoint
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.Simulator.Endpoint, "", cfg.Server.WriteTimeout, cfg.Server.LongPoll)
	sim := simulator.New(cfg.Simulator, client, client, policy, buildCheckpoint(cfg), log.Named("simulator"))

	log.Info("simulator starting",
		zap.String("endpoint", cfg.Simulator.Endpoint),
		zap.Int("oracles", cfg.Simulator.Oracles),
		zap.String("policy", cfg.Simulator.Policy))

	if err := sim.Run(ctx); err != nil {
		return err
	}

	st := sim.Stats()
	log.Info("simulator stopped",
		zap.Int64("events", st.Events),
		zap.Int64("accepted", st.Accepted),
		zap.Int64("resolved", st.Resolved),
		zap.Int64("conflicts", st.Conflicts),
		zap.Int64("failed", st.Failed))
	return nil
}

// buildPolicy creates the configured answer policy
func buildPolicy(cfg *model.Config) (feed.Policy, error) {
	var httpFeed *feed.HTTPFeed
	if cfg.Simulator.FeedURL != "" {
		answers := cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
		httpFeed = feed.NewHTTPFeed(cfg.Simulator.FeedURL, 10*time.Second, answers, cfg.Cache.TTL,
			worker.NewLimiter(cfg.Simulator.SubmitRate, cfg.Simulator.SubmitBurst))
	}
	return feed.New(cfg.Simulator, httpFeed)
}

// buildCheckpoint keeps the checkpoint in memory, backed by disk when a directory is configured
func buildCheckpoint(cfg *model.Config) cache.Cache {
	mem := cache.NewMemoryCache(cache.NoExpiration, cfg.Cache.CleanupInterval)
	if cfg.Simulator.CheckpointDir == "" {
		return mem
	}
	return cache.NewLayeredCache(mem, cache.NewDiskCache(cfg.Simulator.CheckpointDir, 0))
}
