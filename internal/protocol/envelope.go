package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope types accepted on the client endpoint.
const (
	TypeRegister  = "register"
	TypeSendToApp = "send_to_app"
	TypeSendToWeb = "send_to_web"
)

var (
	// ErrMalformed marks frames or payloads that do not decode into the expected shape.
	ErrMalformed = errors.New("malformed payload")
	// ErrInvalid marks payloads that decode but fail method-specific validation.
	ErrInvalid = errors.New("invalid payload")
	// ErrInvalidRole is returned when a registration names a role other than web or app.
	ErrInvalidRole = errors.New("invalid role")
)

// Envelope is the tagged union exchanged with end clients. Data keeps its raw
// encoding so it can be decoded according to Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a client frame. Unknown types decode successfully and are
// rejected by the router, so callers can name the offending type in the reply.
func DecodeEnvelope(text []byte) (Envelope, error) {
	var raw struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(text, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type == nil {
		return Envelope{}, fmt.Errorf("%w: field type is required", ErrMalformed)
	}
	return Envelope{Type: *raw.Type, Data: raw.Data}, nil
}

// Known reports whether the envelope type is part of the protocol.
func (e Envelope) Known() bool {
	switch e.Type {
	case TypeRegister, TypeSendToApp, TypeSendToWeb:
		return true
	default:
		return false
	}
}

// Destination is the routing target carried by a send envelope.
type Destination struct {
	To   string
	Role Role
}

// TargetRole maps a send envelope type to the pairing side it is addressed to.
func TargetRole(envType string) (Role, bool) {
	switch envType {
	case TypeSendToApp:
		return RoleApp, true
	case TypeSendToWeb:
		return RoleWeb, true
	default:
		return "", false
	}
}

// DecodeDestination extracts only the routing target from a send envelope, without
// validating the method payload. It is used for frames that were already validated
// by the instance that published them.
func DecodeDestination(text []byte) (Destination, error) {
	env, err := DecodeEnvelope(text)
	if err != nil {
		return Destination{}, err
	}
	role, ok := TargetRole(env.Type)
	if !ok {
		return Destination{}, fmt.Errorf("%w: type %q is not routable", ErrMalformed, env.Type)
	}
	var data struct {
		To string `json:"to"`
	}
	if isNull(env.Data) {
		return Destination{}, fmt.Errorf("%w: data is required", ErrMalformed)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Destination{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if data.To == "" {
		return Destination{}, fmt.Errorf("%w: field to is required", ErrMalformed)
	}
	return Destination{To: data.To, Role: role}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
