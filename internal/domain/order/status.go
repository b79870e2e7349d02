package order

import "fmt"

// Status is an order lifecycle state. The string values are persisted.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusConfirmed  Status = "Confirmed"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// validTransitions is the full lifecycle graph. Delivered and Cancelled are
// terminal.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// ParseStatus validates a status string received from a caller.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	return validTransitions[s][next]
}

// PreFulfillment reports whether the order's items may still be replaced:
// any state from which cancellation is still possible, i.e. before shipment.
func (s Status) PreFulfillment() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing:
		return true
	default:
		return false
	}
}

// StockEffect is the inventory side effect of entering a status.
type StockEffect int

const (
	// EffectNone leaves the stock counters untouched.
	EffectNone StockEffect = iota
	// EffectRelease returns every item's reserved quantity to availability.
	EffectRelease
	// EffectFinalize converts every item's reservation into a permanent
	// deduction from on-hand stock.
	EffectFinalize
)

// Effect returns the stock side effect of entering s.
func (s Status) Effect() StockEffect {
	switch s {
	case StatusCancelled:
		return EffectRelease
	case StatusDelivered:
		return EffectFinalize
	default:
		return EffectNone
	}
}

// InvalidTransitionError indicates a requested status is not reachable from
// the order's current status. The order is left unchanged.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}
