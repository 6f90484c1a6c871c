package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
)

// Pool is the allocator for every Arrow buffer built by this package.
var Pool = memory.NewGoAllocator()

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond}

// AggregateSchema is the columnar layout of customer aggregates. Monetary and
// review score are stored as doubles for analytics; null means absent.
var AggregateSchema = arrow.NewSchema([]arrow.Field{
	{Name: "customer_unique_id", Type: arrow.BinaryTypes.String},
	{Name: "recency", Type: arrow.PrimitiveTypes.Int64},
	{Name: "frequency", Type: arrow.PrimitiveTypes.Int64},
	{Name: "monetary", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "review_score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "order_purchase_timestamp", Type: timestampType},
	{Name: "customer_zip_code_prefix", Type: arrow.BinaryTypes.String},
	{Name: "customer_city", Type: arrow.BinaryTypes.String},
	{Name: "customer_state", Type: arrow.BinaryTypes.String},
}, nil)

// ClusterSchema returns the columnar layout of cluster assignments with one
// coordinate column per embedding component.
func ClusterSchema(components int) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "customer_unique_id", Type: arrow.BinaryTypes.String},
		{Name: "recency", Type: arrow.PrimitiveTypes.Float64},
		{Name: "frequency", Type: arrow.PrimitiveTypes.Float64},
		{Name: "monetary", Type: arrow.PrimitiveTypes.Float64},
		{Name: "review_score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "cluster_label", Type: arrow.PrimitiveTypes.Int64},
	}
	for c := range components {
		fields = append(fields, arrow.Field{Name: fmt.Sprintf("embedding_%d", c), Type: arrow.PrimitiveTypes.Float64})
	}
	return arrow.NewSchema(fields, nil)
}

// WriteCustomerAggregates writes aggregates to a parquet file at path.
func WriteCustomerAggregates(path string, aggregates []specs.CustomerAggregateSpec) error {
	b := array.NewRecordBuilder(Pool, AggregateSchema)
	defer b.Release()

	for _, a := range aggregates {
		b.Field(0).(*array.StringBuilder).Append(a.CustomerUniqueID)
		b.Field(1).(*array.Int64Builder).Append(int64(a.Recency))
		b.Field(2).(*array.Int64Builder).Append(int64(a.Frequency))
		if err := appendDecimal(b.Field(3).(*array.Float64Builder), "monetary", a.Monetary); err != nil {
			return err
		}
		if err := appendDecimal(b.Field(4).(*array.Float64Builder), "review_score", a.ReviewScore); err != nil {
			return err
		}
		b.Field(5).(*array.TimestampBuilder).Append(arrow.Timestamp(a.OrderPurchaseTimestamp.UnixMicro()))
		b.Field(6).(*array.StringBuilder).Append(a.ZipCodePrefix)
		b.Field(7).(*array.StringBuilder).Append(a.City)
		b.Field(8).(*array.StringBuilder).Append(a.State)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(path, rec)
}

func appendDecimal(b *array.Float64Builder, field string, value *string) error {
	if value == nil {
		b.AppendNull()
		return nil
	}
	f, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		return &internal.ParseError{Field: field, Value: *value, Err: err}
	}
	b.Append(f)
	return nil
}

// WriteClusterAssignments writes assignments to a parquet file at path. All
// assignments must have the same number of embedding components.
func WriteClusterAssignments(path string, assignments []specs.ClusterAssignmentSpec) error {
	components := 0
	if len(assignments) > 0 {
		components = len(assignments[0].Embedding)
	}
	b := array.NewRecordBuilder(Pool, ClusterSchema(components))
	defer b.Release()

	for i, a := range assignments {
		if len(a.Embedding) != components {
			return &internal.SchemaError{
				Table:  "clusters",
				Field:  "embedding",
				Reason: fmt.Sprintf("row %d has %d components, expected %d", i, len(a.Embedding), components),
			}
		}
		b.Field(0).(*array.StringBuilder).Append(a.CustomerUniqueID)
		b.Field(1).(*array.Float64Builder).Append(a.Recency)
		b.Field(2).(*array.Float64Builder).Append(a.Frequency)
		b.Field(3).(*array.Float64Builder).Append(a.Monetary)
		b.Field(4).(*array.Float64Builder).Append(a.ReviewScore)
		b.Field(5).(*array.Int64Builder).Append(int64(a.ClusterLabel))
		for c, v := range a.Embedding {
			b.Field(6 + c).(*array.Float64Builder).Append(v)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(path, rec)
}

func writeParquet(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w, err := pqarrow.NewFileWriter(
		rec.Schema(),
		f,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		return fmt.Errorf("failed to open parquet writer for %s: %w", path, err)
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// ReadCustomerAggregates reads a file written by WriteCustomerAggregates.
func ReadCustomerAggregates(ctx context.Context, path string) ([]specs.CustomerAggregateSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(Pool), pqarrow.ArrowReadProperties{}, Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer tbl.Release()

	cols, err := columnIndexes(tbl.Schema(), AggregateSchema)
	if err != nil {
		return nil, err
	}

	result := make([]specs.CustomerAggregateSpec, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 64*1024)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		ids, ok1 := rec.Column(cols[0]).(*array.String)
		recency, ok2 := rec.Column(cols[1]).(*array.Int64)
		frequency, ok3 := rec.Column(cols[2]).(*array.Int64)
		monetary, ok4 := rec.Column(cols[3]).(*array.Float64)
		review, ok5 := rec.Column(cols[4]).(*array.Float64)
		purchased, ok6 := rec.Column(cols[5]).(*array.Timestamp)
		zips, ok7 := rec.Column(cols[6]).(*array.String)
		cities, ok8 := rec.Column(cols[7]).(*array.String)
		states, ok9 := rec.Column(cols[8]).(*array.String)
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
			return nil, &internal.SchemaError{Table: "customer_aggregates", Reason: "unexpected column types in " + path}
		}

		for i := range int(rec.NumRows()) {
			result = append(result, specs.CustomerAggregateSpec{
				CustomerUniqueID:       ids.Value(i),
				Recency:                int(recency.Value(i)),
				Frequency:              int(frequency.Value(i)),
				Monetary:               formatNullable(monetary, i),
				ReviewScore:            formatNullable(review, i),
				OrderPurchaseTimestamp: time.UnixMicro(int64(purchased.Value(i))).UTC(),
				ZipCodePrefix:          zips.Value(i),
				City:                   cities.Value(i),
				State:                  states.Value(i),
			})
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return result, nil
}

// columnIndexes maps every field of want to its position in got.
func columnIndexes(got, want *arrow.Schema) ([]int, error) {
	idx := make([]int, want.NumFields())
	for i, f := range want.Fields() {
		found := got.FieldIndices(f.Name)
		if len(found) == 0 {
			return nil, &internal.SchemaError{Field: f.Name, Reason: "required column is missing"}
		}
		idx[i] = found[0]
	}
	return idx, nil
}

func formatNullable(a *array.Float64, i int) *string {
	if a.IsNull(i) {
		return nil
	}
	s := strconv.FormatFloat(a.Value(i), 'f', -1, 64)
	return &s
}
