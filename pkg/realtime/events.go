// Package realtime defines the event protocol shared by every transport that
// bridges a client to a realtime speech-and-text provider.
//
// Events are JSON objects carrying a "type" discriminator. Inbound events flow
// from the provider to the client (session.created, response.audio.delta, …);
// outbound events flow from the client to the provider
// (conversation.item.create, response.create, session.update).
//
// The package also owns the two pieces of per-session protocol state that both
// the peer and the relayed-socket transports must agree on: the [Machine]
// lifecycle state machine and the one-shot [Configurator] that emits the single
// session.update frame.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// EventType is the value of the "type" field of a realtime event.
type EventType string

// Inbound event types.
const (
	EventSessionCreated          EventType = "session.created"
	EventSessionUpdated          EventType = "session.updated"
	EventResponseAudioDelta      EventType = "response.audio.delta"
	EventResponseTranscriptDelta EventType = "response.audio_transcript.delta"
	EventResponseAudioDone       EventType = "response.audio.done"
	EventResponseDone            EventType = "response.done"
	EventError                   EventType = "error"
)

// Outbound event types.
const (
	EventConversationItemCreate EventType = "conversation.item.create"
	EventResponseCreate         EventType = "response.create"
	EventSessionUpdate          EventType = "session.update"
)

// Known reports whether t is one of the event types this package models.
// Unknown types are still valid events; they are passed through untouched.
func (t EventType) Known() bool {
	switch t {
	case EventSessionCreated, EventSessionUpdated, EventResponseAudioDelta,
		EventResponseTranscriptDelta, EventResponseAudioDone, EventResponseDone,
		EventError, EventConversationItemCreate, EventResponseCreate, EventSessionUpdate:
		return true
	}
	return false
}

// ErrMalformedEvent is returned by [ParseEvent] for frames that are not a JSON
// object with a non-empty string "type" field.
var ErrMalformedEvent = errors.New("realtime: malformed event")

// Event is a parsed realtime event. Raw holds the complete original frame so
// that relays can forward it byte-for-byte.
type Event struct {
	Type EventType
	Raw  json.RawMessage
}

// ParseEvent validates data and extracts its type tag without decoding the
// payload. The payload can be decoded on demand with [Event.Decode].
func ParseEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("%w: invalid JSON", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return Event{Type: EventType(typ.Str), Raw: json.RawMessage(data)}, nil
}

// PeekType returns the "type" field of data, or "" when data is not a JSON
// object with a string type. It does not allocate a copy of the payload.
func PeekType(data []byte) EventType {
	return EventType(gjson.GetBytes(data, "type").String())
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("realtime: decode %s: %w", e.Type, err)
	}
	return nil
}

// ── Inbound payloads ──────────────────────────────────────────────────────────

// SessionInfo is the session object carried by session.created and
// session.updated.
type SessionInfo struct {
	ID         string   `json:"id"`
	Model      string   `json:"model"`
	Modalities []string `json:"modalities,omitempty"`
	Voice      string   `json:"voice,omitempty"`
	ExpiresAt  int64    `json:"expires_at,omitempty"`
}

// SessionCreated is the payload of session.created.
type SessionCreated struct {
	Type    EventType   `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Session SessionInfo `json:"session"`
}

// AudioDelta is the payload of response.audio.delta.
type AudioDelta struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Delta      string    `json:"delta"` // base64 PCM16
}

// PCM decodes the base64 audio chunk.
func (d AudioDelta) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(d.Delta)
	if err != nil {
		return nil, fmt.Errorf("realtime: decode audio delta: %w", err)
	}
	return pcm, nil
}

// TranscriptDelta is the payload of response.audio_transcript.delta.
type TranscriptDelta struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Delta      string    `json:"delta"`
}

// ErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Type    EventType   `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

// NewErrorFrame builds an error event frame. Relays use it to report
// configuration failures to the client before closing the socket.
func NewErrorFrame(errType, message string) []byte {
	data, _ := json.Marshal(ErrorEvent{
		Type:  EventError,
		Error: ErrorDetail{Type: errType, Message: message},
	})
	return data
}

// ── Outbound events ───────────────────────────────────────────────────────────

// ContentPart is one part of a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ConversationItem is the item object of conversation.item.create.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// ConversationItemCreate is the conversation.item.create event.
type ConversationItemCreate struct {
	Type EventType        `json:"type"`
	Item ConversationItem `json:"item"`
}

// ResponseCreate is the response.create event.
type ResponseCreate struct {
	Type EventType `json:"type"`
}

// UserTextFrames returns the two frames that submit a typed user message and
// ask the model to respond: conversation.item.create followed by
// response.create.
func UserTextFrames(text string) ([][]byte, error) {
	item, err := json.Marshal(ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal conversation item: %w", err)
	}
	resp, err := json.Marshal(ResponseCreate{Type: EventResponseCreate})
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal response.create: %w", err)
	}
	return [][]byte{item, resp}, nil
}
