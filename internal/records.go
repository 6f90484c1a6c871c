package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	specs "github.com/chrisconley/rfms/specs"
)

// Timestamp layouts accepted for purchase and shipping timestamps.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type OrderRecord struct {
	OrderID           Category
	CustomerID        Category
	Status            Category
	PurchaseTimestamp PurchaseTimestamp
}

func NewOrderRecord(spec specs.OrderRecordSpec, dict *Dictionary) (OrderRecord, error) {
	if strings.TrimSpace(spec.OrderID) == "" {
		return OrderRecord{}, &SchemaError{Field: "order_id", Reason: "order ID is required"}
	}

	purchasedAt, err := NewPurchaseTimestamp(spec.PurchaseTimestamp)
	if err != nil {
		return OrderRecord{}, err
	}

	return OrderRecord{
		OrderID:           internKey(dict, spec.OrderID),
		CustomerID:        internKey(dict, spec.CustomerID),
		Status:            dict.Intern(spec.Status),
		PurchaseTimestamp: purchasedAt,
	}, nil
}

type PurchaseTimestamp struct {
	value time.Time
}

func NewPurchaseTimestamp(raw string) (PurchaseTimestamp, error) {
	t, err := parseTimestamp("order_purchase_timestamp", raw)
	if err != nil {
		return PurchaseTimestamp{}, err
	}
	return PurchaseTimestamp{value: t}, nil
}

func (t PurchaseTimestamp) ToTime() time.Time {
	return t.value
}

type CustomerRecord struct {
	CustomerID       Category
	CustomerUniqueID Category
	ZipCodePrefix    Category
	City             Category
	State            Category
}

func NewCustomerRecord(spec specs.CustomerRecordSpec, dict *Dictionary) (CustomerRecord, error) {
	if strings.TrimSpace(spec.CustomerID) == "" {
		return CustomerRecord{}, &SchemaError{Field: "customer_id", Reason: "customer ID is required"}
	}
	if strings.TrimSpace(spec.CustomerUniqueID) == "" {
		return CustomerRecord{}, &SchemaError{Field: "customer_unique_id", Reason: "customer unique ID is required"}
	}

	return CustomerRecord{
		CustomerID:       internKey(dict, spec.CustomerID),
		CustomerUniqueID: internKey(dict, spec.CustomerUniqueID),
		ZipCodePrefix:    dict.Intern(spec.ZipCodePrefix),
		City:             dict.Intern(spec.City),
		State:            dict.Intern(spec.State),
	}, nil
}

type PaymentRecord struct {
	OrderID      Category
	PaymentType  Category
	Installments Category
	Value        Amount
}

func NewPaymentRecord(spec specs.PaymentRecordSpec, dict *Dictionary) (PaymentRecord, error) {
	value, err := NewAmount("payment_value", spec.PaymentValue)
	if err != nil {
		return PaymentRecord{}, err
	}

	return PaymentRecord{
		OrderID:      internKey(dict, spec.OrderID),
		PaymentType:  dict.Intern(spec.PaymentType),
		Installments: dict.Intern(spec.PaymentInstallments),
		Value:        value,
	}, nil
}

type ItemRecord struct {
	OrderID           Category
	Sequence          int
	ShippingLimitDate time.Time
	Price             Amount
	FreightValue      Amount
}

func NewItemRecord(spec specs.ItemRecordSpec, dict *Dictionary) (ItemRecord, error) {
	sequence, err := strconv.Atoi(strings.TrimSpace(spec.OrderItemID))
	if err != nil {
		return ItemRecord{}, &ParseError{Field: "order_item_id", Value: spec.OrderItemID, Err: err}
	}
	if sequence < 1 {
		return ItemRecord{}, &ParseError{Field: "order_item_id", Value: spec.OrderItemID, Err: fmt.Errorf("sequence number must be positive")}
	}

	shippingLimit, err := parseTimestamp("shipping_limit_date", spec.ShippingLimitDate)
	if err != nil {
		return ItemRecord{}, err
	}

	price, err := NewAmount("price", spec.Price)
	if err != nil {
		return ItemRecord{}, err
	}

	freight, err := NewAmount("freight_value", spec.FreightValue)
	if err != nil {
		return ItemRecord{}, err
	}

	return ItemRecord{
		OrderID:           internKey(dict, spec.OrderID),
		Sequence:          sequence,
		ShippingLimitDate: shippingLimit,
		Price:             price,
		FreightValue:      freight,
	}, nil
}

// Total returns price plus freight.
func (i ItemRecord) Total() Decimal {
	return i.Price.ToDecimal().Add(i.FreightValue.ToDecimal())
}

type ReviewRecord struct {
	OrderID Category
	Score   *ReviewScore
}

func NewReviewRecord(spec specs.ReviewRecordSpec, dict *Dictionary) (ReviewRecord, error) {
	record := ReviewRecord{OrderID: internKey(dict, spec.OrderID)}
	if strings.TrimSpace(spec.ReviewScore) == "" {
		return record, nil
	}

	score, err := NewReviewScore(spec.ReviewScore)
	if err != nil {
		return ReviewRecord{}, err
	}
	record.Score = &score
	return record, nil
}

// ReviewScore is an integer rating between 1 and 5.
type ReviewScore struct {
	value int
}

func NewReviewScore(raw string) (ReviewScore, error) {
	trimmed := strings.TrimSpace(raw)
	score, err := strconv.Atoi(trimmed)
	if err != nil {
		// Exports sometimes carry integral scores as "4.0".
		f, ferr := strconv.ParseFloat(trimmed, 64)
		if ferr != nil || f != float64(int(f)) {
			return ReviewScore{}, &ParseError{Field: "review_score", Value: raw, Err: fmt.Errorf("not an integer")}
		}
		score = int(f)
	}
	if score < 1 || score > 5 {
		return ReviewScore{}, &ParseError{Field: "review_score", Value: raw, Err: fmt.Errorf("must be between 1 and 5")}
	}
	return ReviewScore{value: score}, nil
}

func (s ReviewScore) ToInt() int {
	return s.value
}

// Amount is a non-negative monetary value.
type Amount struct {
	value Decimal
}

func NewAmount(field, raw string) (Amount, error) {
	d, err := NewDecimal(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, &ParseError{Field: field, Value: raw, Err: err}
	}
	if d.IsNegative() {
		return Amount{}, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("amount cannot be negative")}
	}
	return Amount{value: d}, nil
}

func (a Amount) ToDecimal() Decimal {
	return a.value
}

// internKey interns a join key. Keys are compared after trimming surrounding
// whitespace in every table.
func internKey(dict *Dictionary, key string) Category {
	return dict.Intern(strings.TrimSpace(key))
}

// parseTimestamp parses a timezone-naive timestamp. The result is expressed
// in UTC only so that instants compare consistently.
func parseTimestamp(field, raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("timestamp is required")}
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, trimmed)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Field: field, Value: raw, Err: lastErr}
}
