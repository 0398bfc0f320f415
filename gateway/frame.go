package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Opcode classifies a gateway frame. Anything the classifier does not
// recognize is treated as a dispatch rather than dropped.
type Opcode string

const (
	OpHeartbeat      Opcode = "HEARTBEAT"
	OpHeartbeatAck   Opcode = "HEARTBEAT_ACK"
	OpHello          Opcode = "HELLO"
	OpDispatch       Opcode = "DISPATCH"
	OpInvalidSession Opcode = "INVALID_SESSION"
)

// Frame is a classified inbound gateway frame.
type Frame struct {
	Op     Opcode
	Event  string
	Seq    int64
	HasSeq bool
	Data   json.RawMessage
}

// wireFrame mirrors the wire shape. The server is inconsistent about field
// names across event sources, so every known alias is tried.
type wireFrame struct {
	Op     json.RawMessage `json:"op"`
	T      *string         `json:"t"`
	Type   *string         `json:"type"`
	Event  *string         `json:"event"`
	S      *int64          `json:"s"`
	Seq    *int64          `json:"seq"`
	Offset *int64          `json:"offset"`
	D      json.RawMessage `json:"d"`
}

// parseFrame classifies raw bytes into a Frame. An error means the bytes are
// not structured data at all; the caller forwards those verbatim.
func parseFrame(data []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	f := &Frame{Op: OpDispatch, Data: w.D}

	opExplicit := false
	if len(w.Op) > 0 && string(w.Op) != "null" {
		opExplicit = true
		f.Op = decodeOpcode(w.Op)
	}

	// Event name aliases in priority order, then the opcode itself.
	switch {
	case w.T != nil:
		f.Event = *w.T
	case w.Type != nil:
		f.Event = *w.Type
	case w.Event != nil:
		f.Event = *w.Event
	case opExplicit:
		f.Event = string(f.Op)
	default:
		f.Event = "unknown"
	}

	// Sequence number aliases.
	switch {
	case w.S != nil:
		f.Seq, f.HasSeq = *w.S, true
	case w.Seq != nil:
		f.Seq, f.HasSeq = *w.Seq, true
	case w.Offset != nil:
		f.Seq, f.HasSeq = *w.Offset, true
	}

	return f, nil
}

// decodeOpcode accepts a string or numeric op field, normalizing numbers to
// their decimal text so unknown numeric opcodes still round-trip as events.
func decodeOpcode(raw json.RawMessage) Opcode {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Opcode(strings.ToUpper(s))
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return Opcode(n.String())
	}
	return OpDispatch
}

// helloPayload is the HELLO frame body.
type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // millis
}

// DispatchPayload is carried on "gateway.dispatch" bus events.
type DispatchPayload struct {
	Type string
	Data json.RawMessage
}

// GapPayload is carried on "gateway.gap" bus events when a sequence
// discontinuity is observed. Gaps are observability-only; the frame that
// revealed the gap is still processed.
type GapPayload struct {
	Expected int64
	Got      int64
}
