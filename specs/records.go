package specs

// RawTablesSpec bundles the five transaction tables as they arrive from the
// export, one spec per CSV row.
//
// Every field is carried as the raw text of its cell. Type coercion (timestamps,
// decimals, review scores) is the job of the field normalizer, which reports
// malformed cells as parse errors instead of guessing.
type RawTablesSpec struct {
	Orders    []OrderRecordSpec    `json:"orders"`
	Customers []CustomerRecordSpec `json:"customers"`
	Payments  []PaymentRecordSpec  `json:"payments"`
	Items     []ItemRecordSpec     `json:"items"`
	Reviews   []ReviewRecordSpec   `json:"reviews"`
}

// OrderRecordSpec represents one placed order.
type OrderRecordSpec struct {
	// Unique identifier of the order.
	//
	// Must be unique within the orders table. Payments, items and reviews
	// reference orders through this key.
	OrderID string `json:"order_id"`

	// Identifier of the customer account that placed the order.
	//
	// A customer ID is an alias: the marketplace issues a new customer ID per
	// order, and several customer IDs can resolve to the same real-world
	// customer (see CustomerRecordSpec.CustomerUniqueID). Every order must
	// resolve to a customer record.
	CustomerID string `json:"customer_id"`

	// Lifecycle status of the order (delivered, shipped, canceled, ...).
	Status string `json:"order_status"`

	// Business timestamp of the purchase, e.g. "2017-10-02 10:56:33".
	//
	// Always present. Interpreted as a timezone-naive instant. The maximum
	// purchase timestamp across the whole table is the reference point for
	// recency.
	PurchaseTimestamp string `json:"order_purchase_timestamp"`
}

// CustomerRecordSpec maps a customer ID to the stable customer identity and
// its location.
type CustomerRecordSpec struct {
	// Unique key of the customer account.
	CustomerID string `json:"customer_id"`

	// Stable real-world identity of the customer.
	//
	// Many customer IDs can map to one unique ID. RFMS profiles are computed
	// per unique ID.
	CustomerUniqueID string `json:"customer_unique_id"`

	// Location attributes. Kept as text: zip prefixes carry leading zeros.
	ZipCodePrefix string `json:"customer_zip_code_prefix"`
	City          string `json:"customer_city"`
	State         string `json:"customer_state"`
}

// PaymentRecordSpec is one payment line of an order.
//
// Orders paid in installments or with several payment methods carry several
// payment lines. Orders without any payment line are valid; their monetary
// value falls back to the item totals.
type PaymentRecordSpec struct {
	OrderID string `json:"order_id"`

	// Optional descriptive columns. Carried through normalization but not
	// used by the RFMS computation.
	PaymentSequential   string `json:"payment_sequential,omitempty"`
	PaymentType         string `json:"payment_type,omitempty"`
	PaymentInstallments string `json:"payment_installments,omitempty"`

	// Paid amount as a decimal string. Must be non-negative.
	PaymentValue string `json:"payment_value"`
}

// ItemRecordSpec is one line item of an order.
type ItemRecordSpec struct {
	OrderID string `json:"order_id"`

	// 1-based sequence number of the item within its order.
	//
	// The item count of an order is the maximum sequence number, not the
	// number of rows.
	OrderItemID string `json:"order_item_id"`

	ProductID string `json:"product_id,omitempty"`
	SellerID  string `json:"seller_id,omitempty"`

	// Seller shipping deadline, same layout as purchase timestamps.
	ShippingLimitDate string `json:"shipping_limit_date"`

	// Item price and freight as decimal strings.
	Price        string `json:"price"`
	FreightValue string `json:"freight_value"`
}

// ReviewRecordSpec is one customer review of an order.
//
// An order may have zero, one or several reviews. Several reviews of one
// order are collapsed to their mean before any join.
type ReviewRecordSpec struct {
	ReviewID string `json:"review_id,omitempty"`
	OrderID  string `json:"order_id"`

	// Integer rating from 1 to 5. An empty cell means "no score" and is
	// skipped.
	ReviewScore string `json:"review_score"`
}
