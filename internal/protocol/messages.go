package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl     MessageType = "client_control"
	TypeClientSpeech      MessageType = "client_speech"
	TypeStateEvent        MessageType = "state_event"
	TypeTranscriptPartial MessageType = "transcript_partial"
	TypeTranscriptFinal   MessageType = "transcript_final"
	TypeReplyDelta        MessageType = "reply_delta"
	TypeReplyCompleted    MessageType = "reply_completed"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted on client_control messages.
const (
	ActionStartListening = "start_listening"
	ActionStopListening  = "stop_listening"
	ActionCancelAll      = "cancel_all"
	ActionSetLanguage    = "set_language"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Action      string      `json:"action"`
	LanguageTag string      `json:"language_tag,omitempty"`
}

// ClientSpeech injects recognizer output for clients that run speech
// recognition on-device. Final marks a committed utterance; non-final
// text feeds the silence debounce like any interim hypothesis.
type ClientSpeech struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Final     bool        `json:"final"`
	TSMs      int64       `json:"ts_ms"`
}

type StateEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	State       string      `json:"state"`
	LanguageTag string      `json:"language_tag"`
	Detail      string      `json:"detail,omitempty"`
}

type TranscriptPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TranscriptFinal struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ReplyDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type ReplyCompleted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

var controlActions = map[string]bool{
	ActionStartListening: true,
	ActionStopListening:  true,
	ActionCancelAll:      true,
	ActionSetLanguage:    true,
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !controlActions[msg.Action] {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == ActionSetLanguage && msg.LanguageTag == "" {
			return nil, errors.New("set_language requires language_tag")
		}
		return msg, nil
	case TypeClientSpeech:
		var msg ClientSpeech
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_speech")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
