package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/notify"
	"github.com/fieldsafe/safegate/internal/registry"
)

// captureSender records every frame pushed through the notifier.
type captureSender struct {
	frames []frame.Frame
}

func (c *captureSender) Send(_ context.Context, _ string, data []byte) error {
	var f frame.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func newCaptureNotifier() (*notify.Notifier, *captureSender) {
	s := &captureSender{}
	return notify.New(s, registry.NewMemoryStore()), s
}

// sliceStream yields a fixed sequence of events.
type sliceStream struct {
	events []Event
	i      int
}

func (s *sliceStream) Next() (Event, error) {
	if s.i >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

type fakeStreamBackend struct {
	events  []Event
	err     error
	lastReq StreamRequest
}

func (f *fakeStreamBackend) Invoke(_ context.Context, req StreamRequest) (Stream, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{events: f.events}, nil
}

func TestParseBackend(t *testing.T) {
	if got := ParseBackend(""); got != BackendBedrock {
		t.Fatalf("ParseBackend(\"\") = %q; want default", got)
	}
	if got := ParseBackend("SomethingElse"); got != BackendBedrock {
		t.Fatalf("ParseBackend(unknown) = %q; want default", got)
	}
	if got := ParseBackend("StrandsSDK"); got != BackendStrands {
		t.Fatalf("ParseBackend(StrandsSDK) = %q", got)
	}
}

func TestStreamInvokerAccumulatesChunksAndForwardsTraces(t *testing.T) {
	trace1 := json.RawMessage(`{"step":1}`)
	trace2 := json.RawMessage(`{"step":2}`)
	backend := &fakeStreamBackend{events: []Event{
		{Chunk: "<div>"},
		{Trace: trace1},
		{Chunk: "Report"},
		{Trace: trace2},
		{Chunk: "</div>"},
	}}
	inv := &StreamInvoker{Backend: backend, Framework: BackendBedrock, AgentID: "a1", AgentAliasID: "al1"}
	n, sender := newCaptureNotifier()

	res, err := inv.Invoke(context.Background(), n, Request{
		Payload:      `{"work_order_id":"WO1"}`,
		SessionID:    "s1",
		ConnectionID: "c1",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "<div>Report</div>" {
		t.Fatalf("text = %q; want concatenated chunks", res.Text)
	}
	if res.Notified {
		t.Fatalf("streaming variant must leave the terminal frame to the caller")
	}
	if len(sender.frames) != 2 {
		t.Fatalf("trace frames = %d; want 2", len(sender.frames))
	}
	for i, want := range []json.RawMessage{trace1, trace2} {
		f := sender.frames[i]
		if f.Message.Type != frame.TypeTrace {
			t.Fatalf("frame %d type = %q; want trace", i, f.Message.Type)
		}
		if string(f.Message.Content) != string(want) {
			t.Fatalf("frame %d content = %s; want %s", i, f.Message.Content, want)
		}
		if f.Message.AgentFramework != "BedrockAgent" {
			t.Fatalf("frame %d framework = %q", i, f.Message.AgentFramework)
		}
	}
	if !backend.lastReq.EnableTrace {
		t.Fatalf("EnableTrace not set on backend request")
	}
	if backend.lastReq.AgentID != "a1" || backend.lastReq.AgentAliasID != "al1" {
		t.Fatalf("agent ids not forwarded: %+v", backend.lastReq)
	}
}

func TestStreamInvokerUnconfigured(t *testing.T) {
	inv := &StreamInvoker{Backend: &fakeStreamBackend{}, Framework: BackendBedrock}
	n, sender := newCaptureNotifier()

	res, err := inv.Invoke(context.Background(), n, Request{ConnectionID: "c1"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v; want ErrNotConfigured", err)
	}
	if res.Text == "" {
		t.Fatalf("expected descriptive error text as result")
	}
	if len(sender.frames) != 0 {
		t.Fatalf("invoker emitted %d frames; terminal delivery is the caller's", len(sender.frames))
	}
}

func TestStreamInvokerBackendFailure(t *testing.T) {
	backend := &fakeStreamBackend{err: errors.New("connection refused")}
	inv := &StreamInvoker{Backend: backend, Framework: BackendBedrock, AgentID: "a1", AgentAliasID: "al1"}
	n, _ := newCaptureNotifier()

	res, err := inv.Invoke(context.Background(), n, Request{ConnectionID: "c1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Text == "" {
		t.Fatalf("expected error text as result")
	}
}
