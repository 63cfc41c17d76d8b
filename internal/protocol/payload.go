package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeRegister decodes and validates the data of a register envelope.
func DecodeRegister(data json.RawMessage) (RegisterData, error) {
	if isNull(data) {
		return RegisterData{}, fmt.Errorf("%w: data is required", ErrMalformed)
	}
	var raw struct {
		ClientID  *string `json:"clientId"`
		Role      *string `json:"role"`
		AuthToken *string `json:"authToken"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RegisterData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case raw.ClientID == nil || *raw.ClientID == "":
		return RegisterData{}, fmt.Errorf("%w: field clientId is required", ErrMalformed)
	case raw.Role == nil:
		return RegisterData{}, fmt.Errorf("%w: field role is required", ErrMalformed)
	case raw.AuthToken == nil:
		return RegisterData{}, fmt.Errorf("%w: field authToken is required", ErrMalformed)
	}
	role, err := ParseRole(*raw.Role)
	if err != nil {
		return RegisterData{}, err
	}
	return RegisterData{ClientID: *raw.ClientID, Role: role, AuthToken: *raw.AuthToken}, nil
}

// DecodeSendToApp decodes a send_to_app payload and enforces the body rule for
// printVoucher.
func DecodeSendToApp(data json.RawMessage) (SendToAppData, error) {
	if isNull(data) {
		return SendToAppData{}, fmt.Errorf("%w: data is required", ErrMalformed)
	}
	var raw struct {
		To     *string         `json:"to"`
		Method *Method         `json:"method"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return SendToAppData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.To == nil || *raw.To == "" {
		return SendToAppData{}, fmt.Errorf("%w: field to is required", ErrMalformed)
	}
	if raw.Method == nil {
		return SendToAppData{}, fmt.Errorf("%w: field method is required", ErrMalformed)
	}
	out := SendToAppData{To: *raw.To, Method: *raw.Method}
	if !isNull(raw.Body) {
		out.Body = raw.Body
	}
	if out.Method == MethodPrintVoucher && !isObject(out.Body) {
		return SendToAppData{}, fmt.Errorf("%w: body is required for %s", ErrInvalid, out.Method)
	}
	return out, nil
}

// DecodeSendToWeb decodes a send_to_web payload. The response shape is checked
// separately by ValidateResponse.
func DecodeSendToWeb(data json.RawMessage) (SendToWebData, error) {
	if isNull(data) {
		return SendToWebData{}, fmt.Errorf("%w: data is required", ErrMalformed)
	}
	var raw struct {
		To       *string         `json:"to"`
		Method   *Method         `json:"method"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return SendToWebData{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case raw.To == nil || *raw.To == "":
		return SendToWebData{}, fmt.Errorf("%w: field to is required", ErrMalformed)
	case raw.Method == nil:
		return SendToWebData{}, fmt.Errorf("%w: field method is required", ErrMalformed)
	case raw.Response == nil:
		return SendToWebData{}, fmt.Errorf("%w: field response is required", ErrMalformed)
	}
	return SendToWebData{To: *raw.To, Method: *raw.Method, Response: raw.Response}, nil
}

// ValidateResponse checks the app's reply against the schema of method.
func ValidateResponse(method Method, response json.RawMessage) error {
	_, err := DecodeResponse(method, response)
	return err
}

// DecodeResponse decodes the app's reply into the schema of method:
// GetTerminalResponse, GetCardDataResponse or PrintVoucherResponse. The
// method's required field must be present and non-null; status, when present,
// must be success or fail.
func DecodeResponse(method Method, response json.RawMessage) (any, error) {
	if !isObject(response) {
		return nil, fmt.Errorf("%w: response must be an object", ErrInvalid)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(response, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var (
		out    any
		status Status
	)
	switch method {
	case MethodGetTerminal:
		if isNull(fields["terminal"]) {
			return nil, fmt.Errorf("%w: field terminal is required for %s", ErrInvalid, method)
		}
		var r GetTerminalResponse
		if err := json.Unmarshal(response, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out, status = r, r.Status
	case MethodGetCardData:
		if isNull(fields["cardString"]) {
			return nil, fmt.Errorf("%w: field cardString is required for %s", ErrInvalid, method)
		}
		var r GetCardDataResponse
		if err := json.Unmarshal(response, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out, status = r, r.Status
	case MethodPrintVoucher:
		var r PrintVoucherResponse
		if err := json.Unmarshal(response, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out, status = r, r.Status
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalid, method)
	}

	if !isNull(fields["status"]) && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return out, nil
}
