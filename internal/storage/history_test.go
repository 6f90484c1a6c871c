package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	specs "github.com/chrisconley/rfms/specs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	t.Run("records and lists cohort summaries newest first", func(t *testing.T) {
		// Arrange
		ctx := context.Background()
		h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		defer h.Close()

		split := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
		score := 0.42
		older := uuid.New()
		newer := uuid.New()

		// Act
		require.NoError(t, h.Record(ctx,
			HistoryEntry{RunID: older, CreatedAt: split.Add(time.Hour), SplitDate: split,
				Quality: specs.CohortQualitySpec{Cohort: "baseline", Customers: 100, ClusterCount: 3, NoiseRatio: 0.1, ClassifiedRatio: 0.9, ValidityScore: &score}},
		))
		require.NoError(t, h.Record(ctx,
			HistoryEntry{RunID: newer, CreatedAt: split.Add(2 * time.Hour), SplitDate: split,
				Quality: specs.CohortQualitySpec{Cohort: "baseline", Customers: 100, ClusterCount: 3, NoiseRatio: 0.1, ClassifiedRatio: 0.9, ValidityScore: &score}},
			HistoryEntry{RunID: newer, CreatedAt: split.Add(2 * time.Hour), SplitDate: split,
				Quality: specs.CohortQualitySpec{Cohort: "current", Customers: 20, ClusterCount: 1, NoiseRatio: 0.5, ClassifiedRatio: 0.5, Degenerate: true}},
		))
		entries, err := h.Recent(ctx, 10)

		// Assert
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, newer, entries[0].RunID)
		assert.Equal(t, "baseline", entries[0].Quality.Cohort)
		assert.Equal(t, "current", entries[1].Quality.Cohort)
		assert.True(t, entries[1].Quality.Degenerate)
		assert.Nil(t, entries[1].Quality.ValidityScore)
		assert.Equal(t, older, entries[2].RunID)
		require.NotNil(t, entries[2].Quality.ValidityScore)
		assert.InDelta(t, 0.42, *entries[2].Quality.ValidityScore, 1e-12)
		assert.Equal(t, split, entries[2].SplitDate)
	})

	t.Run("orders runs less than a second apart chronologically", func(t *testing.T) {
		// Arrange
		ctx := context.Background()
		h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		defer h.Close()

		at := time.Date(2018, 1, 1, 12, 0, 0, 0, time.UTC)
		older := uuid.New()
		newer := uuid.New()
		quality := specs.CohortQualitySpec{Cohort: "baseline"}

		// Act
		require.NoError(t, h.Record(ctx, HistoryEntry{RunID: older, CreatedAt: at, SplitDate: at, Quality: quality}))
		require.NoError(t, h.Record(ctx, HistoryEntry{RunID: newer, CreatedAt: at.Add(500 * time.Millisecond), SplitDate: at, Quality: quality}))
		entries, err := h.Recent(ctx, 1)

		// Assert
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, newer, entries[0].RunID)
		assert.Equal(t, at.Add(500*time.Millisecond), entries[0].CreatedAt)
	})

	t.Run("duplicate cohort within a run is rejected atomically", func(t *testing.T) {
		ctx := context.Background()
		h, err := OpenHistory(ctx, filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		defer h.Close()
		run := uuid.New()
		entry := HistoryEntry{RunID: run, CreatedAt: time.Now(), SplitDate: time.Now(),
			Quality: specs.CohortQualitySpec{Cohort: "baseline"}}

		err = h.Record(ctx, entry, entry)

		require.Error(t, err)
		entries, err := h.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
