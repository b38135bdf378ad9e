package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"start_listening"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionStartListening {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageSetLanguage(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"set_language","language_tag":"es"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.LanguageTag != "es" {
		t.Fatalf("LanguageTag = %q, want %q", control.LanguageTag, "es")
	}
}

func TestParseClientMessageSetLanguageRequiresTag(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"set_language"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"self_destruct"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageSpeech(t *testing.T) {
	raw := []byte(`{"type":"client_speech","session_id":"s1","text":"hello there","final":true,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	speech, ok := msg.(ClientSpeech)
	if !ok {
		t.Fatalf("message type = %T, want ClientSpeech", msg)
	}
	if speech.Text != "hello there" || !speech.Final {
		t.Fatalf("unexpected client speech: %+v", speech)
	}
	if speech.TSMs != 123 {
		t.Fatalf("TSMs = %d, want %d", speech.TSMs, 123)
	}
}

func TestParseClientMessageRejectsEmptySpeech(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_speech","session_id":"s1","text":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func BenchmarkParseClientMessageSpeech(b *testing.B) {
	raw := []byte(`{"type":"client_speech","session_id":"s1","text":"what is two plus two","final":false,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientSpeech); !ok {
			b.Fatalf("message type = %T, want ClientSpeech", msg)
		}
	}
}
