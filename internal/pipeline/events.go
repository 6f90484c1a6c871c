package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/chrisconley/rfms/internal/infra"
	"github.com/chrisconley/rfms/internal/logger"
	"github.com/chrisconley/rfms/internal/storage"
	specs "github.com/chrisconley/rfms/specs"
	"github.com/google/uuid"
)

type RawTablesLoadedEvent struct {
	Dir       string
	Orders    int
	Customers int
	Payments  int
	Items     int
	Reviews   int
}

func (RawTablesLoadedEvent) EventType() infra.EventType { return infra.RawTablesLoaded }

type CustomersAggregatedEvent struct {
	Customers int
	Elapsed   time.Duration
}

func (CustomersAggregatedEvent) EventType() infra.EventType { return infra.CustomersAggregated }

type CustomersSegmentedEvent struct {
	ActiveReviewers int
	SilentCustomers int
}

func (CustomersSegmentedEvent) EventType() infra.EventType { return infra.CustomersSegmented }

type CohortClusteredEvent struct {
	RunID    uuid.UUID
	Quality  specs.CohortQualitySpec
	Excluded int
	Elapsed  time.Duration
}

func (CohortClusteredEvent) EventType() infra.EventType { return infra.CohortClustered }

// ArtifactsCommittedEvent is published once the output directory is in
// place. Cohorts is empty for aggregation-only runs.
type ArtifactsCommittedEvent struct {
	RunID     uuid.UUID
	Dir       string
	SplitDate time.Time
	Cohorts   []specs.CohortQualitySpec
	CreatedAt time.Time
}

func (ArtifactsCommittedEvent) EventType() infra.EventType { return infra.ArtifactsCommitted }

// LogEvents returns a handler that logs every pipeline event.
func LogEvents(log *logger.Logger) infra.Handler {
	return func(e infra.Event) error {
		switch ev := e.(type) {
		case RawTablesLoadedEvent:
			log.Info("raw tables loaded", "dir", ev.Dir, "orders", ev.Orders, "customers", ev.Customers,
				"payments", ev.Payments, "items", ev.Items, "reviews", ev.Reviews)
		case CustomersAggregatedEvent:
			log.Info("customers aggregated", "customers", ev.Customers, "elapsed", ev.Elapsed)
		case CustomersSegmentedEvent:
			log.Info("customers segmented", "active_reviewers", ev.ActiveReviewers, "silent_customers", ev.SilentCustomers)
		case CohortClusteredEvent:
			kv := []interface{}{
				"run_id", ev.RunID.String(),
				"cohort", ev.Quality.Cohort,
				"customers", ev.Quality.Customers,
				"clusters", ev.Quality.ClusterCount,
				"noise_ratio", ev.Quality.NoiseRatio,
				"elapsed", ev.Elapsed,
			}
			if ev.Quality.ValidityScore != nil {
				kv = append(kv, "validity_score", *ev.Quality.ValidityScore)
			}
			log.Info("cohort clustered", kv...)
			if ev.Excluded > 0 {
				log.Warn("customers without monetary value left out of clustering", "cohort", ev.Quality.Cohort, "excluded", ev.Excluded)
			}
			if ev.Quality.Degenerate {
				log.Warn("degenerate clustering, validity score undefined", "cohort", ev.Quality.Cohort, "clusters", ev.Quality.ClusterCount)
			}
		case ArtifactsCommittedEvent:
			log.Info("artifacts committed", "run_id", ev.RunID.String(), "dir", ev.Dir)
		default:
			log.Debug("unhandled event", "type", e.EventType().String())
		}
		return nil
	}
}

// RecordHistory returns a handler that appends the cohort summaries of a
// committed clustering run to the history database.
func RecordHistory(ctx context.Context, history *storage.History) infra.Handler {
	return func(e infra.Event) error {
		ev, ok := e.(ArtifactsCommittedEvent)
		if !ok || len(ev.Cohorts) == 0 {
			return nil
		}
		entries := make([]storage.HistoryEntry, len(ev.Cohorts))
		for i, q := range ev.Cohorts {
			entries[i] = storage.HistoryEntry{
				RunID:     ev.RunID,
				CreatedAt: ev.CreatedAt,
				SplitDate: ev.SplitDate,
				Quality:   q,
			}
		}
		if err := history.Record(ctx, entries...); err != nil {
			return fmt.Errorf("failed to record run history: %w", err)
		}
		return nil
	}
}
