package internal

import (
	"time"

	specs "github.com/chrisconley/rfms/specs"
)

// Aggregate implements specs.Aggregate.
// Converts specs to domain objects, aggregates, and converts back to specs.
func Aggregate(tablesSpec specs.RawTablesSpec) ([]specs.CustomerAggregateSpec, error) {
	tables, err := Normalize(tablesSpec)
	if err != nil {
		return nil, err
	}

	aggregates, err := AggregateTables(tables)
	if err != nil {
		return nil, err
	}

	result := make([]specs.CustomerAggregateSpec, len(aggregates))
	for i, a := range aggregates {
		result[i] = a.ToSpec(tables.Dict)
	}
	return result, nil
}

// AggregateTables runs the RFMS aggregation over normalized tables.
func AggregateTables(tables Tables) ([]CustomerAggregate, error) {
	if len(tables.Orders) == 0 {
		return []CustomerAggregate{}, nil
	}

	orders, err := aggregateOrders(tables, ReferenceTime(tables.Orders))
	if err != nil {
		return nil, err
	}
	return aggregateCustomers(orders), nil
}

// ReferenceTime returns the latest purchase timestamp across all orders.
// Recency of every order is measured against this single instant.
func ReferenceTime(orders []OrderRecord) time.Time {
	var reference time.Time
	for _, o := range orders {
		if o.PurchaseTimestamp.ToTime().After(reference) {
			reference = o.PurchaseTimestamp.ToTime()
		}
	}
	return reference
}

// OrderAggregate is one order joined with its payments, items, customer and
// review.
type OrderAggregate struct {
	OrderID           Category
	CustomerUniqueID  Category
	PurchaseTimestamp time.Time
	Recency           int
	Monetary          *Decimal
	ItemCount         *int
	ReviewScore       *Decimal
	ZipCodePrefix     Category
	City              Category
	State             Category
}

type itemTotals struct {
	total     Decimal
	itemCount int
}

// aggregateOrders builds one OrderAggregate per order. The reference time is
// passed in so that every order is measured against the same instant.
//
// Steps, in order:
//  1. Recency in whole days against the reference time
//  2. Item candidate: Σ(price + freight), item count = max sequence number
//  3. Payment candidate: Σ payment value
//  4. Monetary = payment candidate if present, else item candidate
//  5. Left join customer (required) and collapsed review (optional)
func aggregateOrders(tables Tables, reference time.Time) ([]OrderAggregate, error) {
	items := make(map[Category]itemTotals)
	for _, item := range tables.Items {
		t, ok := items[item.OrderID]
		if !ok {
			t = itemTotals{total: NewDecimalFromInt64(0)}
		}
		t.total = t.total.Add(item.Total())
		if item.Sequence > t.itemCount {
			t.itemCount = item.Sequence
		}
		items[item.OrderID] = t
	}

	payments := make(map[Category]Decimal)
	for _, p := range tables.Payments {
		sum, ok := payments[p.OrderID]
		if !ok {
			sum = NewDecimalFromInt64(0)
		}
		payments[p.OrderID] = sum.Add(p.Value.ToDecimal())
	}

	customers := make(map[Category]CustomerRecord, len(tables.Customers))
	for _, c := range tables.Customers {
		customers[c.CustomerID] = c
	}

	reviews := make(map[Category]Decimal, len(tables.Reviews))
	for _, r := range tables.Reviews {
		reviews[r.OrderID] = r.Score
	}

	result := make([]OrderAggregate, 0, len(tables.Orders))
	for i, order := range tables.Orders {
		if order.CustomerID == Missing {
			return nil, &MissingJoinKeyError{Table: "orders", Key: "customer_id", Row: i}
		}
		customer, ok := customers[order.CustomerID]
		if !ok {
			return nil, &MissingJoinKeyError{
				Table: "orders",
				Key:   "customer_id",
				Value: tables.Dict.Value(order.CustomerID),
				Row:   i,
			}
		}

		purchasedAt := order.PurchaseTimestamp.ToTime()
		agg := OrderAggregate{
			OrderID:           order.OrderID,
			CustomerUniqueID:  customer.CustomerUniqueID,
			PurchaseTimestamp: purchasedAt,
			Recency:           int(reference.Sub(purchasedAt) / (24 * time.Hour)),
			ZipCodePrefix:     customer.ZipCodePrefix,
			City:              customer.City,
			State:             customer.State,
		}

		if t, ok := items[order.OrderID]; ok {
			count := t.itemCount
			agg.ItemCount = &count
			total := t.total
			agg.Monetary = &total
		}
		// Payments are the transacted amount and win over item totals.
		if paid, ok := payments[order.OrderID]; ok {
			agg.Monetary = &paid
		}
		if score, ok := reviews[order.OrderID]; ok {
			agg.ReviewScore = &score
		}

		result = append(result, agg)
	}
	return result, nil
}

// CustomerAggregate is the RFMS profile of one customer unique ID.
type CustomerAggregate struct {
	CustomerUniqueID       Category
	Recency                int
	Frequency              int
	Monetary               *Decimal
	ReviewScore            *Decimal
	OrderPurchaseTimestamp time.Time
	ZipCodePrefix          Category
	City                   Category
	State                  Category
}

// ToSpec converts the profile back to its primitive representation.
func (c CustomerAggregate) ToSpec(dict *Dictionary) specs.CustomerAggregateSpec {
	spec := specs.CustomerAggregateSpec{
		CustomerUniqueID:       dict.Value(c.CustomerUniqueID),
		Recency:                c.Recency,
		Frequency:              c.Frequency,
		OrderPurchaseTimestamp: c.OrderPurchaseTimestamp,
		ZipCodePrefix:          dict.Value(c.ZipCodePrefix),
		City:                   dict.Value(c.City),
		State:                  dict.Value(c.State),
	}
	if c.Monetary != nil {
		s := c.Monetary.String()
		spec.Monetary = &s
	}
	if c.ReviewScore != nil {
		s := c.ReviewScore.String()
		spec.ReviewScore = &s
	}
	return spec
}

// aggregateCustomers groups order aggregates by customer unique ID:
// recency = min, frequency = count, monetary = sum, review score = mean of
// reviewed orders rounded half-up to one decimal, purchase timestamp = max,
// location = mode. Output follows first appearance of each customer.
func aggregateCustomers(orders []OrderAggregate) []CustomerAggregate {
	groups := make(map[Category][]OrderAggregate)
	order := make([]Category, 0)
	for _, o := range orders {
		if _, ok := groups[o.CustomerUniqueID]; !ok {
			order = append(order, o.CustomerUniqueID)
		}
		groups[o.CustomerUniqueID] = append(groups[o.CustomerUniqueID], o)
	}

	result := make([]CustomerAggregate, 0, len(order))
	for _, id := range order {
		result = append(result, reduceCustomer(id, groups[id]))
	}
	return result
}

func reduceCustomer(id Category, orders []OrderAggregate) CustomerAggregate {
	agg := CustomerAggregate{
		CustomerUniqueID:       id,
		Recency:                orders[0].Recency,
		Frequency:              len(orders),
		OrderPurchaseTimestamp: orders[0].PurchaseTimestamp,
	}

	var monetary *Decimal
	scores := make([]Decimal, 0, len(orders))
	zips := make([]Category, 0, len(orders))
	cities := make([]Category, 0, len(orders))
	states := make([]Category, 0, len(orders))

	for _, o := range orders {
		if o.Recency < agg.Recency {
			agg.Recency = o.Recency
		}
		if o.PurchaseTimestamp.After(agg.OrderPurchaseTimestamp) {
			agg.OrderPurchaseTimestamp = o.PurchaseTimestamp
		}
		if o.Monetary != nil {
			if monetary == nil {
				sum := *o.Monetary
				monetary = &sum
			} else {
				sum := monetary.Add(*o.Monetary)
				monetary = &sum
			}
		}
		if o.ReviewScore != nil {
			scores = append(scores, *o.ReviewScore)
		}
		zips = append(zips, o.ZipCodePrefix)
		cities = append(cities, o.City)
		states = append(states, o.State)
	}

	agg.Monetary = monetary
	if mean, ok := Mean(scores, 1, RoundHalfUp); ok {
		agg.ReviewScore = &mean
	}
	agg.ZipCodePrefix = mode(zips)
	agg.City = mode(cities)
	agg.State = mode(states)
	return agg
}

// mode returns the most frequent non-missing value. Ties go to the value that
// appears first in values. Returns Missing when every value is missing.
func mode(values []Category) Category {
	counts := make(map[Category]int, len(values))
	firstSeen := make([]Category, 0, len(values))
	for _, v := range values {
		if v == Missing {
			continue
		}
		if counts[v] == 0 {
			firstSeen = append(firstSeen, v)
		}
		counts[v]++
	}

	best := Missing
	bestCount := 0
	for _, v := range firstSeen {
		if counts[v] > bestCount {
			best = v
			bestCount = counts[v]
		}
	}
	return best
}
