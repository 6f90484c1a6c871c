package specs

import "time"

// Aggregate folds the raw transaction tables into one RFMS profile per real
// customer.
//
// Process:
//  1. Normalize fields (timestamps, decimals, categorical interning) and
//     collapse reviews to one mean score per order
//  2. Compute per-order recency against the dataset-wide maximum purchase
//     timestamp
//  3. Compute per-order monetary value: payments total, falling back to
//     price + freight of the items when the order has no payment line
//  4. Attach customer identity and location, and the collapsed review score
//  5. Group by customer unique ID and reduce
//
// Returns an error if any field is malformed, a required key is duplicated,
// or an order cannot be resolved to a customer.
//
// This is the spec-level interface using only primitive types.
// See internal.Aggregate for the reference implementation.
type Aggregate func(tables RawTablesSpec) ([]CustomerAggregateSpec, error)

// Split partitions customer profiles into active reviewers (review score
// present) and silent customers (no review score). Every input profile lands
// in exactly one partition.
type Split func(aggregates []CustomerAggregateSpec) (activeReviewers, silentCustomers []CustomerAggregateSpec)

// CustomerAggregateSpec is the RFMS profile of one real-world customer.
//
// Profiles are computed once per run from immutable inputs and never mutated.
type CustomerAggregateSpec struct {
	// Stable identity the profile is keyed on.
	CustomerUniqueID string `json:"customer_unique_id"`

	// Days between the customer's most recent order and the latest purchase
	// in the whole dataset. Zero means the customer placed the latest order.
	Recency int `json:"recency"`

	// Number of distinct orders placed by the customer.
	Frequency int `json:"frequency"`

	// Total spent across all orders, as a decimal string.
	//
	// Nil when none of the customer's orders has either a payment line or an
	// item line.
	Monetary *string `json:"monetary"`

	// Mean review score across the customer's reviewed orders, rounded to one
	// decimal place, as a decimal string.
	//
	// Nil when none of the customer's orders was reviewed.
	ReviewScore *string `json:"review_score"`

	// Purchase timestamp of the customer's latest order.
	OrderPurchaseTimestamp time.Time `json:"order_purchase_timestamp"`

	// Most frequent location values across the customer's orders. Ties go to
	// the value seen first.
	ZipCodePrefix string `json:"customer_zip_code_prefix"`
	City          string `json:"customer_city"`
	State         string `json:"customer_state"`
}
