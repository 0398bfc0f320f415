package bus

import "time"

// Event is a signal published on the bus. Kind is a dot-separated name
// ("gateway.dispatch", "message.created", ...); subscribers filter by
// namespace prefix. Err is set on error signals, Payload on everything else.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
	Err       error
}
