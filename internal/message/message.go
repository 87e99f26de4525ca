// Package message defines the clipvault control protocol.
//
// All messages are newline-delimited JSON. A client sends one request and
// reads one response, except for WATCH, after which the server streams EVENT
// messages until either side closes the connection.
// Each message is exactly one line: <json>\n
package message

import (
	"encoding/json"
	"fmt"

	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
)

// Type identifies the kind of message.
type Type string

// Requests.
const (
	TypeList           Type = "LIST"
	TypeGet            Type = "GET"
	TypeCopy           Type = "COPY"
	TypePin            Type = "PIN"
	TypeUnpin          Type = "UNPIN"
	TypeDelete         Type = "DELETE"
	TypeClear          Type = "CLEAR"
	TypeSettings       Type = "SETTINGS"
	TypeUpdateSettings Type = "UPDATE_SETTINGS"
	TypePause          Type = "PAUSE"
	TypeResume         Type = "RESUME"
	TypeWatch          Type = "WATCH"
)

// Responses.
const (
	TypeOK    Type = "OK"
	TypeEvent Type = "EVENT"
	TypeError Type = "ERROR"
)

// Error codes carried by ERROR responses.
const (
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

// Message is the top-level wire envelope.
type Message struct {
	Type Type `json:"type"`

	// GET, COPY, PIN, UNPIN, DELETE
	ID int64 `json:"id,omitempty"`

	// LIST
	Query  string `json:"query,omitempty"`
	Limit  int64  `json:"limit,omitempty"`
	Offset int64  `json:"offset,omitempty"`

	// OK payloads
	Entry    *history.Entry    `json:"entry,omitempty"`
	Page     *history.Page     `json:"page,omitempty"`
	Settings *history.Settings `json:"settings,omitempty"`
	Count    int               `json:"count,omitempty"`

	// EVENT
	Event *events.Event `json:"event,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// Errorf builds an ERROR response.
func Errorf(code, format string, args ...any) *Message {
	return &Message{Type: TypeError, Code: code, Error: fmt.Sprintf(format, args...)}
}

// ResponseError is an ERROR response surfaced as a Go error by clients.
type ResponseError struct {
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Err returns a *ResponseError for ERROR messages and nil otherwise.
func (m *Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	return &ResponseError{Code: m.Code, Message: m.Error}
}
