package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
	"golang.org/x/sync/errgroup"
)

// FileNames are the raw table file names inside the raw data directory.
type FileNames struct {
	Orders    string `yaml:"orders"`
	Customers string `yaml:"customers"`
	Payments  string `yaml:"payments"`
	Items     string `yaml:"items"`
	Reviews   string `yaml:"reviews"`
}

func DefaultFileNames() FileNames {
	return FileNames{
		Orders:    "olist_orders_dataset.csv",
		Customers: "olist_customers_dataset.csv",
		Payments:  "olist_order_payments_dataset.csv",
		Items:     "olist_order_items_dataset.csv",
		Reviews:   "olist_order_reviews_dataset.csv",
	}
}

// LoadRaw reads the five raw tables from dir. Files are read concurrently;
// the first failure cancels the others.
func LoadRaw(ctx context.Context, dir string, names FileNames) (specs.RawTablesSpec, error) {
	var tables specs.RawTablesSpec
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return readCSV(ctx, filepath.Join(dir, names.Orders), "orders",
			[]string{"order_id", "customer_id", "order_status", "order_purchase_timestamp"},
			func(row csvRow) {
				tables.Orders = append(tables.Orders, specs.OrderRecordSpec{
					OrderID:           row.get("order_id"),
					CustomerID:        row.get("customer_id"),
					Status:            row.get("order_status"),
					PurchaseTimestamp: row.get("order_purchase_timestamp"),
				})
			})
	})
	g.Go(func() error {
		return readCSV(ctx, filepath.Join(dir, names.Customers), "customers",
			[]string{"customer_id", "customer_unique_id", "customer_zip_code_prefix", "customer_city", "customer_state"},
			func(row csvRow) {
				tables.Customers = append(tables.Customers, specs.CustomerRecordSpec{
					CustomerID:       row.get("customer_id"),
					CustomerUniqueID: row.get("customer_unique_id"),
					ZipCodePrefix:    row.get("customer_zip_code_prefix"),
					City:             row.get("customer_city"),
					State:            row.get("customer_state"),
				})
			})
	})
	g.Go(func() error {
		return readCSV(ctx, filepath.Join(dir, names.Payments), "payments",
			[]string{"order_id", "payment_value"},
			func(row csvRow) {
				tables.Payments = append(tables.Payments, specs.PaymentRecordSpec{
					OrderID:             row.get("order_id"),
					PaymentSequential:   row.get("payment_sequential"),
					PaymentType:         row.get("payment_type"),
					PaymentInstallments: row.get("payment_installments"),
					PaymentValue:        row.get("payment_value"),
				})
			})
	})
	g.Go(func() error {
		return readCSV(ctx, filepath.Join(dir, names.Items), "items",
			[]string{"order_id", "order_item_id", "price", "freight_value", "shipping_limit_date"},
			func(row csvRow) {
				tables.Items = append(tables.Items, specs.ItemRecordSpec{
					OrderID:           row.get("order_id"),
					OrderItemID:       row.get("order_item_id"),
					ProductID:         row.get("product_id"),
					SellerID:          row.get("seller_id"),
					ShippingLimitDate: row.get("shipping_limit_date"),
					Price:             row.get("price"),
					FreightValue:      row.get("freight_value"),
				})
			})
	})
	g.Go(func() error {
		return readCSV(ctx, filepath.Join(dir, names.Reviews), "reviews",
			[]string{"order_id", "review_score"},
			func(row csvRow) {
				tables.Reviews = append(tables.Reviews, specs.ReviewRecordSpec{
					ReviewID:    row.get("review_id"),
					OrderID:     row.get("order_id"),
					ReviewScore: row.get("review_score"),
				})
			})
	})

	if err := g.Wait(); err != nil {
		return specs.RawTablesSpec{}, err
	}
	return tables, nil
}

// csvRow is one data row with access by column name. Absent optional
// columns read as "".
type csvRow struct {
	header map[string]int
	record []string
}

func (r csvRow) get(column string) string {
	i, ok := r.header[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return r.record[i]
}

// readCSV streams path row by row into emit after checking that every
// required column is present in the header.
func readCSV(ctx context.Context, path, table string, required []string, emit func(csvRow)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s table: %w", table, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	names, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &internal.SchemaError{Table: table, Reason: "file is empty, header row expected"}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", table, err)
	}

	header := make(map[string]int, len(names))
	for i, name := range names {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		header[name] = i
	}
	for _, column := range required {
		if _, ok := header[column]; !ok {
			return &internal.SchemaError{Table: table, Field: column, Reason: "required column is missing"}
		}
	}

	for line := 1; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", table, err)
		}
		emit(csvRow{header: header, record: record})
	}
}
