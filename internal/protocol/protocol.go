// Package protocol defines the messages exchanged between the host and
// embedded mini app content over a single serialized-string pipe.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	bridgeerrors "github.com/R3E-Network/miniapp-host/internal/errors"
)

// Message type tags for frames that are not capability requests.
const (
	TypeScroll = "scroll"
	TypeEvent  = "event"
	TypeInject = "inject"
)

// Event names emitted by the host.
const (
	EventPrimaryButtonClicked = "primary_button_clicked"
	EventContextChanged       = "context_changed"
)

// ID is a request identifier: a JSON string or number, echoed back verbatim.
type ID struct {
	raw json.RawMessage
}

// StringID builds a string identifier.
func StringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// NumberID builds a numeric identifier.
func NumberID(n int64) ID {
	return ID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

// Key returns a value usable as a map key for correlation.
func (id ID) Key() string { return string(id.raw) }

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool { return len(id.raw) == 0 }

func (id ID) String() string { return string(id.raw) }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty id")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("id must be a string or number")
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// Request is a capability call from embedded content.
type Request struct {
	ID     ID              `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID     ID                        `json:"id"`
	Result interface{}               `json:"result,omitempty"`
	Error  *bridgeerrors.BridgeError `json:"error,omitempty"`
}

// MarshalJSON keeps "result": null for successful void calls so the two
// response shapes stay distinguishable.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			ID    ID                        `json:"id"`
			Error *bridgeerrors.BridgeError `json:"error"`
		}{r.ID, r.Error})
	}
	return json.Marshal(struct {
		ID     ID          `json:"id"`
		Result interface{} `json:"result"`
	}{r.ID, r.Result})
}

// NewResult builds a success response.
func NewResult(id ID, result interface{}) Response {
	return Response{ID: id, Result: result}
}

// NewError builds an error response. err is mapped to the public taxonomy.
func NewError(id ID, err error) Response {
	return Response{ID: id, Error: bridgeerrors.From(err).Public()}
}

// ScrollMessage reports the embedded content's vertical scroll offset.
type ScrollMessage struct {
	Type    string  `json:"type"`
	ScrollY float64 `json:"scrollY"`
}

// Event is an unsolicited host-to-content notification.
type Event struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, data interface{}) Event {
	return Event{Type: TypeEvent, Event: name, Data: data}
}

// Inject carries a script for out-of-band injection when the pipe itself is
// the only channel into the content's execution context.
type Inject struct {
	Type   string `json:"type"`
	Script string `json:"script"`
}

// Encode serialises any outbound frame.
func Encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return string(raw), nil
}
