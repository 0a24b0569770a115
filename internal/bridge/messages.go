// Package bridge implements the postMessage protocol between the parent
// form page and the selection widget iframe: the wire messages, the origin
// policy, a transport abstraction with an in-process pipe, the parent-side
// client and the widget-side agent.
package bridge

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// Message type tags on the wire. The names are the protocol; both sides of
// the real product match on these exact strings.
const (
	TypePing       = "JF_WIDGET_PING"
	TypePong       = "JF_WIDGET_PONG"
	TypeSelect     = "JF_WIDGET_SELECT"
	TypeSelected   = "JF_WIDGET_SELECTED"
	TypeResolve    = "JF_WIDGET_RESOLVE"
	TypeResolved   = "JF_WIDGET_RESOLVED"
	TypeValue      = "JF_WIDGET_VALUE"
	TypeValueDirty = "JF_WIDGET_VALUE_DIRTY"
)

// ModeClearInvalid asks the agent to drop selections that became
// unavailable, without making a new choice.
const ModeClearInvalid = "clear-invalid"

// ErrWidgetUnreachable is returned when the widget never answers within the
// handshake or reply budget. Callers treat it as "no widget here" and move
// on rather than abort the run.
var ErrWidgetUnreachable = errors.New("bridge: widget unreachable")

// Message is the union of every frame on the wire. Correlation is by Type;
// exchanges are strictly sequential per the protocol.
type Message struct {
	Type string `json:"type"`

	// Select request fields.
	Tokens []string `json:"tokens,omitempty"`
	Single bool     `json:"single,omitempty"`

	// Resolve request fields.
	Mode string `json:"mode,omitempty"`

	// Selected reply fields.
	Changed bool   `json:"changed,omitempty"`
	Picked  string `json:"picked,omitempty"`

	// Resolved reply fields.
	Fixed bool `json:"fixed,omitempty"`

	// Value report fields.
	Values []string `json:"values,omitempty"`
	Value  string   `json:"value,omitempty"`
}

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode serializes a message for a postMessage hop.
func Encode(m Message) ([]byte, error) {
	return codec.Marshal(m)
}

// Decode parses one wire frame. Unknown fields are ignored; an unknown Type
// is the receiver's problem, not a decode error.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
