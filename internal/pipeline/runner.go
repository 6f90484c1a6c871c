package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chrisconley/rfms/internal"
	"github.com/chrisconley/rfms/internal/config"
	"github.com/chrisconley/rfms/internal/infra"
	"github.com/chrisconley/rfms/internal/logger"
	"github.com/chrisconley/rfms/internal/observability"
	"github.com/chrisconley/rfms/internal/storage"
	specs "github.com/chrisconley/rfms/specs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Artifact names inside the processed directory.
const (
	AggregatesFile      = "rfms_data.parquet"
	ActiveReviewersFile = "rfms_active_reviewers.parquet"
	SilentCustomersFile = "rfms_silent_customers.parquet"
	ClustersDir         = "clusters"
	BaselineFile        = "clusters_baseline.parquet"
	CurrentFile         = "clusters_current.parquet"
	ReportFile          = "cluster_report.json"
)

// Runner executes the pipeline stages against the configured directories.
// Outputs are staged and committed only when every artifact was written.
type Runner struct {
	cfg config.Config
	log *logger.Logger
	bus *infra.Bus
	now func() time.Time
}

func NewRunner(cfg config.Config, log *logger.Logger, bus *infra.Bus) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	if bus == nil {
		bus = infra.NewBus()
	}
	return &Runner{cfg: cfg, log: log, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

// Run aggregates the raw tables and clusters the active reviewers, writing
// every artifact into the processed directory.
func (r *Runner) Run(ctx context.Context, split time.Time) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "run")
	defer func() { endSpan(span, err) }()

	runID := uuid.New()
	span.SetAttributes(attribute.String("run_id", runID.String()), attribute.String("split_date", split.Format(time.DateOnly)))

	out, err := storage.NewOutputDir(r.cfg.Data.ProcessedDir)
	if err != nil {
		return err
	}
	defer out.Discard()

	active, err := r.aggregate(ctx, out)
	if err != nil {
		return err
	}
	report, err := r.cluster(ctx, runID, split, active, func(name string) (string, error) {
		return out.Path(ClustersDir, name)
	})
	if err != nil {
		return err
	}
	return r.commit(out, runID, split, &report)
}

// RunAggregation writes the aggregate artifacts only.
func (r *Runner) RunAggregation(ctx context.Context) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "run_aggregation")
	defer func() { endSpan(span, err) }()

	out, err := storage.NewOutputDir(r.cfg.Data.ProcessedDir)
	if err != nil {
		return err
	}
	defer out.Discard()

	if _, err := r.aggregate(ctx, out); err != nil {
		return err
	}
	return r.commit(out, uuid.New(), time.Time{}, nil)
}

// RunClustering clusters the active reviewers of a previous aggregation run
// and replaces the clusters directory.
func (r *Runner) RunClustering(ctx context.Context, split time.Time) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "run_clustering")
	defer func() { endSpan(span, err) }()

	runID := uuid.New()
	span.SetAttributes(attribute.String("run_id", runID.String()), attribute.String("split_date", split.Format(time.DateOnly)))

	input := filepath.Join(r.cfg.Data.ProcessedDir, ActiveReviewersFile)
	active, err := storage.ReadCustomerAggregates(ctx, input)
	if err != nil {
		return err
	}
	r.log.Debug("active reviewers read", "path", input, "customers", len(active))

	out, err := storage.NewOutputDir(filepath.Join(r.cfg.Data.ProcessedDir, ClustersDir))
	if err != nil {
		return err
	}
	defer out.Discard()

	report, err := r.cluster(ctx, runID, split, active, func(name string) (string, error) {
		return out.Path(name)
	})
	if err != nil {
		return err
	}
	return r.commit(out, runID, split, &report)
}

// aggregate loads, aggregates and segments the raw tables and writes the
// three aggregate artifacts. It returns the active reviewers.
func (r *Runner) aggregate(ctx context.Context, out *storage.OutputDir) ([]specs.CustomerAggregateSpec, error) {
	loadCtx, span := observability.Tracer().Start(ctx, "load_raw")
	tables, err := storage.LoadRaw(loadCtx, r.cfg.Data.RawDir, r.cfg.Data.Files)
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw tables: %w", err)
	}
	if err := r.bus.Publish(RawTablesLoadedEvent{
		Dir:       r.cfg.Data.RawDir,
		Orders:    len(tables.Orders),
		Customers: len(tables.Customers),
		Payments:  len(tables.Payments),
		Items:     len(tables.Items),
		Reviews:   len(tables.Reviews),
	}); err != nil {
		return nil, err
	}

	_, span = observability.Tracer().Start(ctx, "aggregate")
	started := time.Now()
	aggregates, err := internal.Aggregate(tables)
	span.SetAttributes(attribute.Int("customers", len(aggregates)))
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate: %w", err)
	}
	if err := r.bus.Publish(CustomersAggregatedEvent{Customers: len(aggregates), Elapsed: time.Since(started)}); err != nil {
		return nil, err
	}

	active, silent := internal.Split(aggregates)
	if err := r.bus.Publish(CustomersSegmentedEvent{ActiveReviewers: len(active), SilentCustomers: len(silent)}); err != nil {
		return nil, err
	}

	_, span = observability.Tracer().Start(ctx, "write_aggregates")
	err = r.writeAggregates(out, map[string][]specs.CustomerAggregateSpec{
		AggregatesFile:      aggregates,
		ActiveReviewersFile: active,
		SilentCustomersFile: silent,
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (r *Runner) writeAggregates(out *storage.OutputDir, files map[string][]specs.CustomerAggregateSpec) error {
	for name, rows := range files {
		path, err := out.Path(name)
		if err != nil {
			return err
		}
		if err := storage.WriteCustomerAggregates(path, rows); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// cluster fits the baseline cohort, projects the current one and writes the
// cluster artifacts through path.
func (r *Runner) cluster(
	ctx context.Context,
	runID uuid.UUID,
	split time.Time,
	active []specs.CustomerAggregateSpec,
	path func(name string) (string, error),
) (ClusterReport, error) {
	baselineRows, currentRows := SplitCohorts(active, split)
	modelConfig := ModelConfig{
		Embedding: r.cfg.Embedding.ToEmbedding(),
		DBSCAN:    r.cfg.Clustering.ToDBSCAN(),
	}

	_, span := observability.Tracer().Start(ctx, "fit_baseline")
	span.SetAttributes(attribute.Int("customers", len(baselineRows)))
	started := time.Now()
	model, baseline, err := FitBaseline(baselineRows, modelConfig)
	endSpan(span, err)
	if err != nil {
		return ClusterReport{}, fmt.Errorf("failed to fit baseline cohort: %w", err)
	}
	if err := r.bus.Publish(CohortClusteredEvent{
		RunID:    runID,
		Quality:  baseline.QualitySpec(),
		Excluded: baseline.Excluded,
		Elapsed:  time.Since(started),
	}); err != nil {
		return ClusterReport{}, err
	}

	_, span = observability.Tracer().Start(ctx, "project_current")
	span.SetAttributes(attribute.Int("customers", len(currentRows)))
	started = time.Now()
	current, err := model.Project(currentRows)
	endSpan(span, err)
	if err != nil {
		return ClusterReport{}, fmt.Errorf("failed to project current cohort: %w", err)
	}
	if err := r.bus.Publish(CohortClusteredEvent{
		RunID:    runID,
		Quality:  current.QualitySpec(),
		Excluded: current.Excluded,
		Elapsed:  time.Since(started),
	}); err != nil {
		return ClusterReport{}, err
	}

	for name, result := range map[string]CohortResult{BaselineFile: baseline, CurrentFile: current} {
		p, err := path(name)
		if err != nil {
			return ClusterReport{}, err
		}
		if err := storage.WriteClusterAssignments(p, result.Assignments()); err != nil {
			return ClusterReport{}, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	report := NewClusterReport(runID, split, baseline, current)
	p, err := path(ReportFile)
	if err != nil {
		return ClusterReport{}, err
	}
	if err := WriteReport(p, report); err != nil {
		return ClusterReport{}, err
	}
	return report, nil
}

func (r *Runner) commit(out *storage.OutputDir, runID uuid.UUID, split time.Time, report *ClusterReport) error {
	if err := out.Commit(); err != nil {
		return err
	}
	ev := ArtifactsCommittedEvent{
		RunID:     runID,
		Dir:       out.Final(),
		SplitDate: split,
		CreatedAt: r.now(),
	}
	if report != nil {
		ev.Cohorts = []specs.CohortQualitySpec{report.Baseline, report.Current}
	}
	return r.bus.Publish(ev)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
