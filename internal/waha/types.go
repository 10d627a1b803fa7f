package waha

import (
	"encoding/json"
	"fmt"
)

// Message is one WhatsApp message as returned by GET /api/messages.
type Message struct {
	ID        FlexID `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
	HasMedia  bool   `json:"hasMedia"`
}

// Chat is one entry of the chat overview.
type Chat struct {
	ID        FlexID `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Session is the gateway session state.
type Session struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// FlexID decodes ids that engines return either as a plain string or as
// an object carrying a "_serialized" field.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var obj struct {
		Serialized string `json:"_serialized"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	if obj.Serialized != "" {
		*f = FlexID(obj.Serialized)
	} else {
		*f = FlexID(obj.ID)
	}
	return nil
}

func (f FlexID) String() string { return string(f) }

type chatRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("waha %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}
