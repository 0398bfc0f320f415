package gateway

import (
	"fmt"
	"strings"
)

// Intent is a bit flag controlling which event categories the gateway pushes
// to this connection. The resolved integer is sent as a query parameter on
// the connection URL.
type Intent uint32

const (
	IntentMessages Intent = 1 << iota
	IntentTyping
	IntentNotifications
	IntentProfileViews
	IntentPresence
	IntentThreads
	IntentSocial
)

// IntentsDefault is used when the consumer specifies no intents.
const IntentsDefault = IntentMessages | IntentNotifications | IntentThreads

// IntentsAll enables every event category.
const IntentsAll = IntentMessages | IntentTyping | IntentNotifications |
	IntentProfileViews | IntentPresence | IntentThreads | IntentSocial

var intentNames = map[string]Intent{
	"messages":      IntentMessages,
	"typing":        IntentTyping,
	"notifications": IntentNotifications,
	"profile_views": IntentProfileViews,
	"presence":      IntentPresence,
	"threads":       IntentThreads,
	"social":        IntentSocial,
}

// Has reports whether all bits of other are set.
func (i Intent) Has(other Intent) bool { return i&other == other }

// ordered by bit position, for deterministic String output.
var intentOrder = []string{"messages", "typing", "notifications", "profile_views", "presence", "threads", "social"}

func (i Intent) String() string {
	var out []string
	for _, name := range intentOrder {
		if i.Has(intentNames[name]) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, "|")
}

// ResolveIntents collapses the accepted input shapes to a single bitmask:
// an Intent, a raw integer, a flag name, or a slice of any of those. A zero
// or nil input resolves to IntentsDefault.
func ResolveIntents(v any) (Intent, error) {
	if v == nil {
		return IntentsDefault, nil
	}
	switch t := v.(type) {
	case Intent:
		if t == 0 {
			return IntentsDefault, nil
		}
		return t, nil
	case int:
		return ResolveIntents(Intent(t))
	case uint32:
		return ResolveIntents(Intent(t))
	case int64:
		return ResolveIntents(Intent(t))
	case string:
		bit, ok := intentNames[strings.ToLower(t)]
		if !ok {
			return 0, fmt.Errorf("unknown intent %q", t)
		}
		return bit, nil
	case []Intent:
		var out Intent
		for _, i := range t {
			out |= i
		}
		return ResolveIntents(out)
	case []string:
		var out Intent
		for _, name := range t {
			bit, err := ResolveIntents(name)
			if err != nil {
				return 0, err
			}
			out |= bit
		}
		return ResolveIntents(out)
	case []any:
		var out Intent
		for _, elem := range t {
			bit, err := ResolveIntents(elem)
			if err != nil {
				return 0, err
			}
			out |= bit
		}
		return ResolveIntents(out)
	default:
		return 0, fmt.Errorf("cannot resolve intents from %T", v)
	}
}
