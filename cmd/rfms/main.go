// Command rfms builds RFMS customer profiles from the raw order tables and
// segments them with density clustering.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrisconley/rfms/internal/config"
	"github.com/chrisconley/rfms/internal/infra"
	"github.com/chrisconley/rfms/internal/logger"
	"github.com/chrisconley/rfms/internal/observability"
	"github.com/chrisconley/rfms/internal/pipeline"
	"github.com/chrisconley/rfms/internal/storage"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	cutoff string

	cfg      config.Config
	log      *logger.Logger
	runner   *pipeline.Runner
	history  *storage.History
	shutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "rfms",
	Short: "RFMS customer segmentation",
	Long: `rfms aggregates the raw order tables into one Recency, Frequency,
Monetary and Satisfaction profile per customer, then clusters the customers
who left reviews.

The baseline cohort (purchases before the cutoff) fits the feature transform
and the embedding; the current cohort is projected into the same space and
clustered again so that drift between the two can be reported.

Run without a subcommand to execute both stages.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		split, err := resolveCutoff(cmd)
		if err != nil {
			return err
		}
		return runner.Run(cmd.Context(), split)
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Build customer profiles and the reviewer/silent partitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runner.RunAggregation(cmd.Context())
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the active reviewers of a previous aggregation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		split, err := resolveCutoff(cmd)
		if err != nil {
			return err
		}
		return runner.RunClustering(cmd.Context(), split)
	},
}

func init() {
	usage := "baseline cutoff, YYYY-MM (whole month included) or YYYY-MM-DD"
	rootCmd.Flags().StringVar(&cutoff, "cutoff", pipeline.DefaultCutoff, usage)
	clusterCmd.Flags().StringVar(&cutoff, "cutoff", pipeline.DefaultCutoff, usage)
	rootCmd.Args = cobra.NoArgs

	rootCmd.AddCommand(aggregateCmd, clusterCmd)
}

// setup loads the configuration and wires logging, tracing, run history and
// the event subscribers shared by every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	path := config.PathFromEnv()
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	log, err = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Debug("configuration loaded", "path", path)

	ctx := cmd.Context()
	shutdown, err = observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "rfms",
		Version:     version,
		Output:      cfg.Tracing.Output,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	bus := infra.NewBus()
	bus.SubscribeAll(pipeline.LogEvents(log))
	if cfg.History.Enabled {
		history, err = storage.OpenHistory(ctx, cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		bus.Subscribe(infra.ArtifactsCommitted, pipeline.RecordHistory(ctx, history))
	}

	runner = pipeline.NewRunner(cfg, log, bus)
	return nil
}

func teardown(ctx context.Context) {
	if history != nil {
		if err := history.Close(); err != nil {
			log.Warn("failed to close history database", "error", err)
		}
	}
	if shutdown != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}
	if log != nil {
		log.Sync()
	}
}

// resolveCutoff prefers the flag and falls back to the configured cutoff.
func resolveCutoff(cmd *cobra.Command) (time.Time, error) {
	value := cutoff
	if !cmd.Flags().Changed("cutoff") && cfg.Clustering.Cutoff != "" {
		value = cfg.Clustering.Cutoff
	}
	return pipeline.ParseCutoff(value)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && log != nil {
		log.Error("run failed", "error", err)
	}
	teardown(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
