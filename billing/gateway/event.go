package gateway

// EventType is the normalized billing event type. Each adapter maps its
// provider-specific event names onto these in its own mapping table.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout.completed"
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventUnknown               EventType = "unknown"
)

// Event is the provider-agnostic representation of an asynchronous payment
// notification. It is transient: dispatched, never persisted as its own
// entity.
type Event struct {
	Type           EventType
	Gateway        Kind
	EventID        string // provider event id, used for idempotent processing
	SubscriptionID string // provider's subscription id
	PaymentID      string // provider's payment/transaction id
	Amount         int64  // minor currency units, 0 when not applicable
	Metadata       map[string]string
	Raw            map[string]any
}

// LocalSubscriptionID returns the local subscription id embedded in checkout
// metadata, empty when the event carries none.
func (e *Event) LocalSubscriptionID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata["subscription_id"]
}
