package benchmarks

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chrisconley/rfms/specs"
)

// rawTables builds a marketplace with the given number of orders. About one
// customer in ten orders twice, every order has one payment and one or two
// items, and four orders in five are reviewed.
func rawTables(orders int) specs.RawTablesSpec {
	rng := rand.New(rand.NewPCG(42, 42))
	start := time.Date(2016, 10, 1, 0, 0, 0, 0, time.UTC)
	var t specs.RawTablesSpec

	customers := orders - orders/10
	for c := range customers {
		t.Customers = append(t.Customers, specs.CustomerRecordSpec{
			CustomerID:       fmt.Sprintf("c%07d", c),
			CustomerUniqueID: fmt.Sprintf("u%07d", c%(customers-customers/20)),
			ZipCodePrefix:    fmt.Sprintf("%05d", rng.IntN(99999)),
			City:             []string{"sao paulo", "rio de janeiro", "curitiba", "belo horizonte"}[rng.IntN(4)],
			State:            []string{"SP", "RJ", "PR", "MG"}[rng.IntN(4)],
		})
	}

	for o := range orders {
		id := fmt.Sprintf("o%07d", o)
		purchased := start.Add(time.Duration(rng.IntN(700*24)) * time.Hour)
		t.Orders = append(t.Orders, specs.OrderRecordSpec{
			OrderID:           id,
			CustomerID:        fmt.Sprintf("c%07d", o%customers),
			Status:            "delivered",
			PurchaseTimestamp: purchased.Format(time.DateTime),
		})
		t.Payments = append(t.Payments, specs.PaymentRecordSpec{
			OrderID:           id,
			PaymentSequential: "1",
			PaymentType:       "credit_card",
			PaymentValue:      fmt.Sprintf("%d.%02d", 10+rng.IntN(500), rng.IntN(100)),
		})
		for item := range 1 + rng.IntN(2) {
			t.Items = append(t.Items, specs.ItemRecordSpec{
				OrderID:           id,
				OrderItemID:       fmt.Sprint(item + 1),
				ShippingLimitDate: purchased.Add(72 * time.Hour).Format(time.DateTime),
				Price:             fmt.Sprintf("%d.90", 5+rng.IntN(300)),
				FreightValue:      fmt.Sprintf("%d.50", rng.IntN(40)),
			})
		}
		if rng.IntN(5) != 0 {
			t.Reviews = append(t.Reviews, specs.ReviewRecordSpec{
				OrderID:     id,
				ReviewScore: fmt.Sprint(1 + rng.IntN(5)),
			})
		}
	}
	return t
}

// featureMatrix builds n four-column rows spread over three blobs.
func featureMatrix(n int) [][]float64 {
	rng := rand.New(rand.NewPCG(7, 7))
	centers := [][]float64{{0, 0, 0, 0}, {4, 4, 0, 0}, {0, 4, 4, 4}}
	out := make([][]float64, n)
	for i := range out {
		c := centers[i%len(centers)]
		row := make([]float64, len(c))
		for d := range row {
			row[d] = c[d] + rng.NormFloat64()*0.4
		}
		out[i] = row
	}
	return out
}
