package v2

import "time"

// PaymentEventType is one stage of a payment's lifecycle, reported through
// a PaymentCallback for logging, monitoring, or debugging.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent is one client-side payment lifecycle notification, shared by
// the HTTP and MCP transport packages so a caller's callback doesn't need a
// transport-specific event type.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time

	// Transport identifies which surface produced the event: Method is
	// "HTTP" or "MCP"; exactly one of URL (HTTP) / Tool (MCP) is set.
	Method string
	Tool   string
	URL    string

	// Payment terms, known from the attempt onward.
	Amount    string
	Asset     string
	Network   string
	Scheme    string
	Recipient string

	// Outcome fields, populated once the attempt resolves.
	Payer       string
	Transaction string
	Error       error
	Duration    time.Duration

	// ExtensionKeys lists the protocol extensions that enriched this
	// payment's challenge or settlement, if any were registered.
	ExtensionKeys []string

	// Metadata carries additional context-specific data a caller's
	// callback may want (request ID, route name, etc.).
	Metadata map[string]interface{}
}

// PaymentCallback handles a PaymentEvent. Callbacks run synchronously on the
// payment path, so slow callbacks delay the payment itself; dispatch to a
// goroutine inside the callback for anything that does its own I/O.
type PaymentCallback func(PaymentEvent)
