package protocol

import (
	"encoding/json"
	"fmt"
)

// Role names one side of a pairing.
type Role string

const (
	RoleWeb Role = "web"
	RoleApp Role = "app"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleWeb, RoleApp:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Peer returns the complementary role.
func (r Role) Peer() Role {
	if r == RoleWeb {
		return RoleApp
	}
	return RoleWeb
}

// Title is the capitalized role name used in client replies.
func (r Role) Title() string {
	switch r {
	case RoleWeb:
		return "Web"
	case RoleApp:
		return "App"
	default:
		return string(r)
	}
}

// Method is one of the domain operations carried by send envelopes.
type Method string

const (
	MethodGetTerminal  Method = "getTerminal"
	MethodGetCardData  Method = "getCardData"
	MethodPrintVoucher Method = "printVoucher"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodGetTerminal, MethodGetCardData, MethodPrintVoucher:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects methods outside the closed set.
func (m *Method) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("method must be a string: %w", err)
	}
	if !Method(s).Valid() {
		return fmt.Errorf("unknown method %q", s)
	}
	*m = Method(s)
	return nil
}

// Status is the outcome reported by the app in a reply.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFail
}

// RegisterData is the payload of a register envelope.
type RegisterData struct {
	ClientID  string `json:"clientId"`
	Role      Role   `json:"role"`
	AuthToken string `json:"authToken"`
}

// SendToAppData is the payload of a send_to_app envelope.
type SendToAppData struct {
	To     string          `json:"to"`
	Method Method          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// SendToWebData is the payload of a send_to_web envelope.
type SendToWebData struct {
	To       string          `json:"to"`
	Method   Method          `json:"method"`
	Response json.RawMessage `json:"response"`
}

// GetTerminalResponse is the app's reply to getTerminal.
type GetTerminalResponse struct {
	Status    Status `json:"status,omitempty"`
	StatusMsg string `json:"statusMsg,omitempty"`
	Terminal  string `json:"terminal"`
}

// GetCardDataResponse is the app's reply to getCardData.
type GetCardDataResponse struct {
	Status     Status `json:"status,omitempty"`
	StatusMsg  string `json:"statusMsg,omitempty"`
	CardString string `json:"cardString"`
}

// PrintVoucherResponse is the app's reply to printVoucher.
type PrintVoucherResponse struct {
	Status    Status `json:"status,omitempty"`
	StatusMsg string `json:"statusMsg,omitempty"`
}
