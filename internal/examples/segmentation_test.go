package examples

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chrisconley/rfms/internal/config"
	"github.com/chrisconley/rfms/internal/infra"
	"github.com/chrisconley/rfms/internal/logger"
	"github.com/chrisconley/rfms/internal/pipeline"
	"github.com/chrisconley/rfms/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === MARKETPLACE FIXTURE ===

const (
	fixtureCustomers  = 60
	baselineCustomers = 40
)

// writeMarketplace writes the five raw tables of a small marketplace.
// Customers alternate between two personas: even ones buy once, cheaply,
// and leave five stars; odd ones buy twice, spend a lot and complain. Every
// tenth customer never reviews. The first forty customers last bought in
// 2017, the rest in 2018.
func writeMarketplace(t *testing.T, dir string) {
	t.Helper()
	var orders, customers, payments, items, reviews strings.Builder
	orders.WriteString("order_id,customer_id,order_status,order_purchase_timestamp\n")
	customers.WriteString("customer_id,customer_unique_id,customer_zip_code_prefix,customer_city,customer_state\n")
	payments.WriteString("order_id,payment_sequential,payment_type,payment_installments,payment_value\n")
	items.WriteString("order_id,order_item_id,product_id,seller_id,shipping_limit_date,price,freight_value\n")
	reviews.WriteString("review_id,order_id,review_score,review_creation_date\n")

	for i := range fixtureCustomers {
		purchased := fmt.Sprintf("2017-%02d-%02d 10:%02d:00", 1+i%11, 1+i%27, i%60)
		if i >= baselineCustomers {
			purchased = fmt.Sprintf("2018-%02d-%02d 09:%02d:00", 1+i%7, 1+i%27, i%60)
		}
		order := fmt.Sprintf("o%03d", i)
		customer := fmt.Sprintf("c%03d", i)
		unique := fmt.Sprintf("u%03d", i)

		fmt.Fprintf(&customers, "%s,%s,%05d,sao paulo,SP\n", customer, unique, 1000+i)
		fmt.Fprintf(&orders, "%s,%s,delivered,%s\n", order, customer, purchased)
		fmt.Fprintf(&items, "%s,1,p%d,s1,%s,15.00,5.00\n", order, i%3, purchased)

		value, score := 20+i%10, 5
		if i%2 == 1 {
			value, score = 400+7*(i%13), 1+i%2
		}
		fmt.Fprintf(&payments, "%s,1,credit_card,1,%d.50\n", order, value)
		if i%10 != 9 {
			fmt.Fprintf(&reviews, "r%03d,%s,%d,%s\n", i, order, score, purchased)
		}

		if i%2 == 1 {
			// Second order through another customer_id of the same person.
			earlier := fmt.Sprintf("o%03db", i)
			fmt.Fprintf(&customers, "%sb,%s,%05d,sao paulo,SP\n", customer, unique, 1000+i)
			fmt.Fprintf(&orders, "%s,%sb,delivered,2016-%02d-15 12:00:00\n", earlier, customer, 1+i%12)
			fmt.Fprintf(&payments, "%s,1,boleto,1,%d.00\n", earlier, value)
		}
	}

	names := storage.DefaultFileNames()
	for name, content := range map[string]string{
		names.Orders:    orders.String(),
		names.Customers: customers.String(),
		names.Payments:  payments.String(),
		names.Items:     items.String(),
		names.Reviews:   reviews.String(),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.RawDir = t.TempDir()
	cfg.Data.ProcessedDir = filepath.Join(t.TempDir(), "processed")
	cfg.Embedding.NNeighbors = 6
	cfg.Embedding.NComponents = 2
	cfg.Embedding.Epochs = 60
	cfg.Clustering.MinSamples = 3
	cfg.History.DatabasePath = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

// === EVENT RECORDER ===

type recorder struct {
	events []infra.Event
}

func (r *recorder) handle(e infra.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []infra.EventType {
	out := make([]infra.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func readReport(t *testing.T, path string) pipeline.ClusterReport {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var report pipeline.ClusterReport
	require.NoError(t, json.Unmarshal(content, &report))
	return report
}

// === SCENARIOS ===

func TestSegmentationRun(t *testing.T) {
	ctx := context.Background()

	t.Run("full run writes every artifact and records history", func(t *testing.T) {
		// Arrange
		cfg := testConfig(t)
		writeMarketplace(t, cfg.Data.RawDir)

		history, err := storage.OpenHistory(ctx, cfg.History.DatabasePath)
		require.NoError(t, err)
		defer history.Close()

		events := &recorder{}
		bus := infra.NewBus()
		bus.SubscribeAll(events.handle)
		bus.Subscribe(infra.ArtifactsCommitted, pipeline.RecordHistory(ctx, history))
		runner := pipeline.NewRunner(cfg, logger.NewNop(), bus)

		split, err := pipeline.ParseCutoff(pipeline.DefaultCutoff)
		require.NoError(t, err)

		// Act
		err = runner.Run(ctx, split)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []infra.EventType{
			infra.RawTablesLoaded,
			infra.CustomersAggregated,
			infra.CustomersSegmented,
			infra.CohortClustered,
			infra.CohortClustered,
			infra.ArtifactsCommitted,
		}, events.types())

		processed := cfg.Data.ProcessedDir
		all, err := storage.ReadCustomerAggregates(ctx, filepath.Join(processed, pipeline.AggregatesFile))
		require.NoError(t, err)
		assert.Len(t, all, fixtureCustomers)

		active, err := storage.ReadCustomerAggregates(ctx, filepath.Join(processed, pipeline.ActiveReviewersFile))
		require.NoError(t, err)
		silent, err := storage.ReadCustomerAggregates(ctx, filepath.Join(processed, pipeline.SilentCustomersFile))
		require.NoError(t, err)
		assert.Len(t, active, 54)
		assert.Len(t, silent, 6)
		for _, a := range silent {
			assert.Nil(t, a.ReviewScore)
		}

		// The odd persona's second order doubles frequency and adds spend.
		assert.Equal(t, "u001", all[1].CustomerUniqueID)
		assert.Equal(t, 2, all[1].Frequency)
		require.NotNil(t, all[1].Monetary)
		assert.Equal(t, "814.5", *all[1].Monetary)

		for _, name := range []string{pipeline.BaselineFile, pipeline.CurrentFile, pipeline.ReportFile} {
			assert.FileExists(t, filepath.Join(processed, pipeline.ClustersDir, name))
		}
		report := readReport(t, filepath.Join(processed, pipeline.ClustersDir, pipeline.ReportFile))
		assert.Equal(t, "2018-01-01", report.SplitDate)
		assert.Equal(t, 36, report.Baseline.Customers)
		assert.Equal(t, 18, report.Current.Customers)
		assert.Equal(t, report.Baseline.ClusterCount, report.ClusterCount)
		assert.Equal(t, report.Baseline.Degenerate, report.ValidityScore == nil)

		entries, err := history.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, report.RunID, entries[0].RunID)
	})

	t.Run("cluster command replaces only the clusters directory", func(t *testing.T) {
		// Arrange
		cfg := testConfig(t)
		writeMarketplace(t, cfg.Data.RawDir)
		runner := pipeline.NewRunner(cfg, logger.NewNop(), nil)
		require.NoError(t, runner.RunAggregation(ctx))
		aggregates := filepath.Join(cfg.Data.ProcessedDir, pipeline.AggregatesFile)
		before, err := os.Stat(aggregates)
		require.NoError(t, err)

		split, err := pipeline.ParseCutoff("2017-06")
		require.NoError(t, err)

		// Act
		err = runner.RunClustering(ctx, split)

		// Assert
		require.NoError(t, err)
		after, err := os.Stat(aggregates)
		require.NoError(t, err)
		assert.Equal(t, before.ModTime(), after.ModTime())

		report := readReport(t, filepath.Join(cfg.Data.ProcessedDir, pipeline.ClustersDir, pipeline.ReportFile))
		assert.Equal(t, "2017-07-01", report.SplitDate)
		assert.Equal(t, 54, report.Baseline.Customers+report.Current.Customers)
	})

	t.Run("the same inputs give the same clusters", func(t *testing.T) {
		cfg := testConfig(t)
		writeMarketplace(t, cfg.Data.RawDir)
		runner := pipeline.NewRunner(cfg, nil, nil)
		split := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
		reportPath := filepath.Join(cfg.Data.ProcessedDir, pipeline.ClustersDir, pipeline.ReportFile)

		require.NoError(t, runner.Run(ctx, split))
		first := readReport(t, reportPath)
		require.NoError(t, runner.Run(ctx, split))
		second := readReport(t, reportPath)

		assert.NotEqual(t, first.RunID, second.RunID)
		second.RunID = first.RunID
		assert.Equal(t, first, second)
	})

	t.Run("a failed run leaves the previous output untouched", func(t *testing.T) {
		// Arrange
		cfg := testConfig(t)
		writeMarketplace(t, cfg.Data.RawDir)
		runner := pipeline.NewRunner(cfg, nil, nil)
		require.NoError(t, runner.RunAggregation(ctx))
		require.NoError(t, os.Remove(filepath.Join(cfg.Data.RawDir, storage.DefaultFileNames().Reviews)))

		// Act
		err := runner.RunAggregation(ctx)

		// Assert
		require.ErrorIs(t, err, os.ErrNotExist)
		assert.FileExists(t, filepath.Join(cfg.Data.ProcessedDir, pipeline.AggregatesFile))
		siblings, err := os.ReadDir(filepath.Dir(cfg.Data.ProcessedDir))
		require.NoError(t, err)
		require.Len(t, siblings, 1, "staging directories must be removed")
	})

	t.Run("cluster command needs a previous aggregation", func(t *testing.T) {
		cfg := testConfig(t)
		runner := pipeline.NewRunner(cfg, nil, nil)

		err := runner.RunClustering(ctx, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))

		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
