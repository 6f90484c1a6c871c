package internal

import (
	"errors"
	"fmt"

	specs "github.com/chrisconley/rfms/specs"
)

// Tables holds the normalized transaction tables of one run. All categorical
// columns share Dict.
type Tables struct {
	Dict      *Dictionary
	Orders    []OrderRecord
	Customers []CustomerRecord
	Payments  []PaymentRecord
	Items     []ItemRecord
	Reviews   []OrderReview
}

// OrderReview is the collapsed review score of one order.
type OrderReview struct {
	OrderID Category
	Score   Decimal
}

// Normalize coerces the raw tables into typed records and collapses reviews
// to one score per order. Malformed cells fail with *ParseError, broken key
// invariants with *SchemaError.
func Normalize(spec specs.RawTablesSpec) (Tables, error) {
	dict := NewDictionary()
	tables := Tables{Dict: dict}

	seenOrders := make(map[Category]struct{}, len(spec.Orders))
	tables.Orders = make([]OrderRecord, 0, len(spec.Orders))
	for i, s := range spec.Orders {
		order, err := NewOrderRecord(s, dict)
		if err != nil {
			return Tables{}, locate(err, "orders", i)
		}
		if _, dup := seenOrders[order.OrderID]; dup {
			return Tables{}, &SchemaError{Table: "orders", Field: "order_id", Reason: fmt.Sprintf("duplicate order ID %q", s.OrderID)}
		}
		seenOrders[order.OrderID] = struct{}{}
		tables.Orders = append(tables.Orders, order)
	}

	seenCustomers := make(map[Category]struct{}, len(spec.Customers))
	tables.Customers = make([]CustomerRecord, 0, len(spec.Customers))
	for i, s := range spec.Customers {
		customer, err := NewCustomerRecord(s, dict)
		if err != nil {
			return Tables{}, locate(err, "customers", i)
		}
		if _, dup := seenCustomers[customer.CustomerID]; dup {
			return Tables{}, &SchemaError{Table: "customers", Field: "customer_id", Reason: fmt.Sprintf("duplicate customer ID %q", s.CustomerID)}
		}
		seenCustomers[customer.CustomerID] = struct{}{}
		tables.Customers = append(tables.Customers, customer)
	}

	tables.Payments = make([]PaymentRecord, 0, len(spec.Payments))
	for i, s := range spec.Payments {
		payment, err := NewPaymentRecord(s, dict)
		if err != nil {
			return Tables{}, locate(err, "payments", i)
		}
		tables.Payments = append(tables.Payments, payment)
	}

	tables.Items = make([]ItemRecord, 0, len(spec.Items))
	for i, s := range spec.Items {
		item, err := NewItemRecord(s, dict)
		if err != nil {
			return Tables{}, locate(err, "items", i)
		}
		tables.Items = append(tables.Items, item)
	}

	reviews := make([]ReviewRecord, 0, len(spec.Reviews))
	for i, s := range spec.Reviews {
		review, err := NewReviewRecord(s, dict)
		if err != nil {
			return Tables{}, locate(err, "reviews", i)
		}
		reviews = append(reviews, review)
	}
	tables.Reviews = CollapseReviews(reviews)

	return tables, nil
}

// CollapseReviews projects reviews to (order, score) and averages the scores
// of each order, rounded half-even to one decimal. Orders whose reviews carry
// no score are dropped. Output follows first appearance of each order.
//
// This runs before any join so that an order reviewed twice is counted once
// when scores are later averaged per customer.
func CollapseReviews(reviews []ReviewRecord) []OrderReview {
	scores := make(map[Category][]Decimal)
	order := make([]Category, 0)
	for _, r := range reviews {
		if r.Score == nil {
			continue
		}
		if _, ok := scores[r.OrderID]; !ok {
			order = append(order, r.OrderID)
		}
		scores[r.OrderID] = append(scores[r.OrderID], NewDecimalFromInt64(int64(r.Score.ToInt())))
	}

	collapsed := make([]OrderReview, 0, len(order))
	for _, id := range order {
		mean, _ := Mean(scores[id], 1, RoundHalfEven)
		collapsed = append(collapsed, OrderReview{OrderID: id, Score: mean})
	}
	return collapsed
}

// locate stamps the table and row onto parse and schema errors raised by the
// record constructors.
func locate(err error, table string, row int) error {
	var perr *ParseError
	if errors.As(err, &perr) {
		perr.Table = table
		perr.Row = row
		return perr
	}
	var serr *SchemaError
	if errors.As(err, &serr) {
		serr.Table = table
		return serr
	}
	return fmt.Errorf("invalid %s row %d: %w", table, row, err)
}
