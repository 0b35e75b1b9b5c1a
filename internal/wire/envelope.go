// Package wire implements the BiDi JSON envelope: parsing inbound
// command messages and building outbound command-response, error and
// event messages. It is a standalone validating layer so the command
// processor never touches raw JSON.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/bidicdp/mediator/internal/bidierr"
)

// Command is a parsed, validated inbound BiDi command envelope.
type Command struct {
	ID      int64
	Method  string
	Params  json.RawMessage
	Channel string
}

// rawEnvelope is the permissive shape used to recover as much of a
// malformed envelope as possible, so error responses can still echo a
// usable id.
type rawEnvelope struct {
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	Channel json.RawMessage `json:"channel"`
}

// ParseCommand validates the outer envelope of an inbound BiDi message.
// On success it returns a Command. On failure it returns a *bidierr.Error
// with code "invalid argument" and, when the id could be recovered from
// the malformed payload, that id is returned as well (nil otherwise) so
// the caller can still stamp the error response with it.
func ParseCommand(data []byte) (*Command, *int64, *bidierr.Error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, bidierr.InvalidArgument("malformed JSON: %v", err)
	}

	id, recoveredID, idErr := parseID(raw.ID)
	if idErr != nil {
		return nil, recoveredID, idErr
	}

	if len(raw.Method) == 0 {
		return nil, &id, bidierr.InvalidArgument("Expected string but got undefined for field \"method\"")
	}
	var method string
	if err := json.Unmarshal(raw.Method, &method); err != nil || method == "" {
		return nil, &id, bidierr.InvalidArgument("Expected non-empty string for field \"method\"")
	}

	if len(raw.Params) == 0 {
		return nil, &id, bidierr.InvalidArgument("Expected object but got undefined for field \"params\"")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw.Params, &probe); err != nil {
		return nil, &id, bidierr.InvalidArgument("Expected object for field \"params\": %v", err)
	}

	channel, chErr := parseChannel(raw.Channel)
	if chErr != nil {
		return nil, &id, chErr
	}

	return &Command{ID: id, Method: method, Params: raw.Params, Channel: channel}, &id, nil
}

// parseID enforces that id is an unsigned integer: -1 and non-integer
// ids are invalid, and on failure no id is echoed back.
func parseID(raw json.RawMessage) (int64, *int64, *bidierr.Error) {
	if len(raw) == 0 {
		return 0, nil, bidierr.InvalidArgument("Expected unsigned integer but got undefined")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, nil, bidierr.InvalidArgument("Expected unsigned integer but got %s", string(raw))
	}
	if f != float64(int64(f)) || f < 0 {
		return 0, nil, bidierr.InvalidArgument("Expected unsigned integer but got %v", f)
	}
	id := int64(f)
	return id, nil, nil
}

// parseChannel normalizes an empty-string channel to absent.
func parseChannel(raw json.RawMessage) (string, *bidierr.Error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var channel string
	if err := json.Unmarshal(raw, &channel); err != nil {
		return "", bidierr.InvalidArgument("Expected string for field \"channel\"")
	}
	return channel, nil
}

// SuccessResponse is the outbound shape for a successful command.
type SuccessResponse struct {
	ID      int64  `json:"id"`
	Result  any    `json:"result"`
	Channel string `json:"channel,omitempty"`
}

// Event is the outbound shape for a BiDi event.
type Event struct {
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Channel string `json:"channel,omitempty"`
}

// MarshalSuccess builds the JSON bytes for a successful command response.
func MarshalSuccess(id int64, result any, channel string) ([]byte, error) {
	return json.Marshal(SuccessResponse{ID: id, Result: result, Channel: channel})
}

// MarshalError builds the JSON bytes for an error response.
func MarshalError(e *bidierr.Error, id *int64, channel string) ([]byte, error) {
	return json.Marshal(e.AsResponse(id, channel))
}

// MarshalEvent builds the JSON bytes for an outbound event.
func MarshalEvent(method string, params any, channel string) ([]byte, error) {
	return json.Marshal(Event{Method: method, Params: params, Channel: channel})
}

// UnmarshalParams decodes cmd.Params into dst, wrapping decode errors
// as BiDi "invalid argument" failures.
func UnmarshalParams(cmd *Command, dst any) *bidierr.Error {
	if err := json.Unmarshal(cmd.Params, dst); err != nil {
		return bidierr.InvalidArgument("%s", fmt.Sprintf("failed to parse params for %s: %v", cmd.Method, err))
	}
	return nil
}
