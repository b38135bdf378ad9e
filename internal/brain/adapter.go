package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized inference request built from a finalized
// transcript.
type Request struct {
	SessionID      string `json:"session_id"`
	TurnID         string `json:"turn_id"`
	InputText      string `json:"input_text"`
	LanguageTag    string `json:"language_tag,omitempty"`
	PromptTemplate string `json:"prompt_template,omitempty"`
}

// Reply is the final response after streaming deltas. NoSpeech marks replies
// that should reach the transcript but never the synthesizer.
type Reply struct {
	Text     string `json:"text"`
	NoSpeech bool   `json:"no_speech,omitempty"`
}

// DeltaHandler receives streaming text fragments. Returning an error aborts
// the stream.
type DeltaHandler func(delta string) error

// Adapter produces a reply for one conversation turn, streaming partial text
// through onDelta as it arrives.
type Adapter interface {
	StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}
