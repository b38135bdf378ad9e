package brain

import (
	"context"
	"errors"
	"testing"
)

type scriptedAdapter struct {
	deltas []string
	reply  Reply
	err    error
	calls  int
}

func (a *scriptedAdapter) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	a.calls++
	for _, d := range a.deltas {
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return Reply{}, err
			}
		}
	}
	return a.reply, a.err
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &scriptedAdapter{deltas: []string{"hello"}, reply: Reply{Text: "hello"}}
	secondary := &scriptedAdapter{reply: Reply{Text: "backup"}}
	adapter := NewFallbackAdapter(primary, secondary)

	reply, err := adapter.StreamReply(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("StreamReply error = %v", err)
	}
	if reply.Text != "hello" {
		t.Fatalf("reply text = %q, want %q", reply.Text, "hello")
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFallbackUsedOnPrimaryError(t *testing.T) {
	primary := &scriptedAdapter{err: errors.New("provider down")}
	secondary := &scriptedAdapter{deltas: []string{"backup"}, reply: Reply{Text: "backup"}}
	adapter := NewFallbackAdapter(primary, secondary)

	var deltas []string
	reply, err := adapter.StreamReply(context.Background(), Request{}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply error = %v", err)
	}
	if reply.Text != "backup" {
		t.Fatalf("reply text = %q, want %q", reply.Text, "backup")
	}
	if len(deltas) != 1 || deltas[0] != "backup" {
		t.Fatalf("deltas = %v, want only fallback output", deltas)
	}
}

func TestFallbackSkippedAfterPrimaryStreamed(t *testing.T) {
	primary := &scriptedAdapter{deltas: []string{"partial "}, err: errors.New("mid-stream failure")}
	secondary := &scriptedAdapter{reply: Reply{Text: "backup"}}
	adapter := NewFallbackAdapter(primary, secondary)

	_, err := adapter.StreamReply(context.Background(), Request{}, nil)
	if err == nil {
		t.Fatal("expected mid-stream failure to surface")
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary calls = %d, want 0 after primary streamed text", secondary.calls)
	}
}

func TestFallbackDoesNotRetryCancellation(t *testing.T) {
	primary := &scriptedAdapter{err: context.Canceled}
	secondary := &scriptedAdapter{reply: Reply{Text: "backup"}}
	adapter := NewFallbackAdapter(primary, secondary)

	_, err := adapter.StreamReply(context.Background(), Request{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary calls = %d, want 0 for cancelled turn", secondary.calls)
	}
}

func TestFallbackReportsBothErrors(t *testing.T) {
	primary := &scriptedAdapter{err: errors.New("primary boom")}
	secondary := &scriptedAdapter{err: errors.New("secondary boom")}
	adapter := NewFallbackAdapter(primary, secondary)

	_, err := adapter.StreamReply(context.Background(), Request{}, nil)
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !errors.Is(err, primary.err) {
		t.Fatalf("error %v should wrap primary error", err)
	}
}

func TestNewAdapterModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "mock", cfg: Config{Mode: "mock"}},
		{name: "auto without url yields mock", cfg: Config{Mode: "auto"}},
		{name: "http requires url", cfg: Config{Mode: "http"}, wantErr: true},
		{name: "http with url", cfg: Config{Mode: "http", HTTPURL: "http://brain.local/v1/reply"}},
		{name: "unknown mode", cfg: Config{Mode: "psychic"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := NewAdapter(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAdapter error = %v", err)
			}
			if adapter == nil {
				t.Fatal("adapter is nil")
			}
		})
	}
}

func TestMockAdapterEchoesInput(t *testing.T) {
	adapter := NewMockAdapter()
	var deltas []string
	reply, err := adapter.StreamReply(context.Background(), Request{InputText: "hello"}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply error = %v", err)
	}
	if reply.Text != "I heard you: hello" {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if len(deltas) != 1 {
		t.Fatalf("delta count = %d, want 1", len(deltas))
	}
}

func TestMockAdapterHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockAdapter().StreamReply(ctx, Request{InputText: "hello"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
