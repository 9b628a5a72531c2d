package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Kind classifies an inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindScroll
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// Inbound is a classified inbound frame.
type Inbound struct {
	Kind    Kind
	Request Request
	Scroll  ScrollMessage
}

// Parse classifies a raw inbound string. Anything that is not a well formed
// capability request or scroll ping yields KindUnknown; other sub-protocols
// share the pipe, so this is not an error.
func Parse(raw string) Inbound {
	if !gjson.Valid(raw) {
		return Inbound{}
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return Inbound{}
	}

	if root.Get("type").String() == TypeScroll {
		y := root.Get("scrollY")
		if y.Type != gjson.Number {
			return Inbound{}
		}
		return Inbound{Kind: KindScroll, Scroll: ScrollMessage{Type: TypeScroll, ScrollY: y.Float()}}
	}

	id := root.Get("id")
	method := root.Get("method")
	if !id.Exists() || (id.Type != gjson.String && id.Type != gjson.Number) {
		return Inbound{}
	}
	if method.Type != gjson.String || method.String() == "" {
		return Inbound{}
	}
	params := root.Get("params")
	if params.Exists() && !params.IsObject() && params.Type != gjson.Null {
		return Inbound{}
	}

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return Inbound{}
	}
	if params.Type == gjson.Null {
		req.Params = nil
	}
	return Inbound{Kind: KindRequest, Request: req}
}
