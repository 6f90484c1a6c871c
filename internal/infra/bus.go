package infra

import "errors"

// EventType represents the type of event in the system
type EventType int

const (
	RawTablesLoaded EventType = iota
	CustomersAggregated
	CustomersSegmented
	CohortClustered
	ArtifactsCommitted
)

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case RawTablesLoaded:
		return "RawTablesLoaded"
	case CustomersAggregated:
		return "CustomersAggregated"
	case CustomersSegmented:
		return "CustomersSegmented"
	case CohortClustered:
		return "CohortClustered"
	case ArtifactsCommitted:
		return "ArtifactsCommitted"
	default:
		return "Unknown"
	}
}

type Event interface{ EventType() EventType }

// Handler reacts to one event. A returned error is reported to the publisher
// but does not stop the remaining handlers.
type Handler func(Event) error

type Bus struct{ subs map[EventType][]Handler }

func NewBus() *Bus { return &Bus{subs: map[EventType][]Handler{}} }

// Publish delivers e to every subscriber in subscription order and joins
// their errors.
func (b *Bus) Publish(e Event) error {
	var errs []error
	for _, h := range b.subs[e.EventType()] {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) Subscribe(evt EventType, h Handler) { b.subs[evt] = append(b.subs[evt], h) }

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	for et := RawTablesLoaded; et <= ArtifactsCommitted; et++ {
		b.Subscribe(et, h)
	}
}
