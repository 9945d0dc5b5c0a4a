// Package protocol defines the realtime event envelope exchanged with the hub.
//
// Wire shape:
//
//	{ "type": "canvas_update" | "partner_connected" | "partner_disconnected",
//	  "elements": [...], "userId": "...", "partner": {...} }
//
// An absent "elements" key decodes to a nil slice; an empty list decodes to
// a non-nil empty slice, so a cleared canvas still propagates.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/canvassync/internal/canvas"
)

// Type is the envelope event type.
type Type string

const (
	TypeCanvasUpdate        Type = "canvas_update"
	TypePartnerConnected    Type = "partner_connected"
	TypePartnerDisconnected Type = "partner_disconnected"
)

// Known reports whether t is an event type this client understands.
// Unknown types still decode; consumers log and ignore them.
func (t Type) Known() bool {
	switch t {
	case TypeCanvasUpdate, TypePartnerConnected, TypePartnerDisconnected:
		return true
	}
	return false
}

// Envelope is one realtime event.
type Envelope struct {
	Type     Type
	Elements []canvas.Element
	UserID   string
	Partner  *canvas.Partner
}

// wireEnvelope distinguishes a missing elements key from an empty list.
type wireEnvelope struct {
	Type     Type              `json:"type"`
	Elements *[]canvas.Element `json:"elements,omitempty"`
	UserID   string            `json:"userId,omitempty"`
	Partner  *canvas.Partner   `json:"partner,omitempty"`
}

// CanvasUpdate builds a canvas_update envelope authored by userID.
// A nil element list is sent as an empty list.
func CanvasUpdate(userID string, elements []canvas.Element) Envelope {
	if elements == nil {
		elements = []canvas.Element{}
	}
	return Envelope{Type: TypeCanvasUpdate, Elements: elements, UserID: userID}
}

// MalformedMessageError reports an inbound payload that could not be decoded.
// The channel stays open; the payload is dropped.
type MalformedMessageError struct {
	Reason  string
	Payload string // truncated copy for diagnostics
	Err     error
}

// maxPayloadEcho caps how much of a bad payload is kept for logging.
const maxPayloadEcho = 128

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("MALFORMED_MESSAGE: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("MALFORMED_MESSAGE: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is (or wraps) a MalformedMessageError.
func IsMalformed(err error) bool {
	var me *MalformedMessageError
	return errors.As(err, &me)
}

func malformed(reason string, data []byte, err error) *MalformedMessageError {
	payload := string(data)
	if len(payload) > maxPayloadEcho {
		payload = payload[:maxPayloadEcho] + "..."
	}
	return &MalformedMessageError{Reason: reason, Payload: payload, Err: err}
}

// Decode parses one inbound payload.
//
// Returns MalformedMessageError for invalid JSON or a missing type.
// Unknown types decode successfully.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, malformed("invalid json", data, err)
	}
	if w.Type == "" {
		return Envelope{}, malformed("missing type", data, nil)
	}

	env := Envelope{Type: w.Type, UserID: w.UserID, Partner: w.Partner}
	if w.Elements != nil {
		env.Elements = *w.Elements
		if env.Elements == nil {
			env.Elements = []canvas.Element{}
		}
	}
	return env, nil
}

// Encode serializes env. The elements key is written only when
// env.Elements is non-nil.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("encode envelope: missing type")
	}
	w := wireEnvelope{Type: env.Type, UserID: env.UserID, Partner: env.Partner}
	if env.Elements != nil {
		elements := env.Elements
		w.Elements = &elements
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
