// Package agent invokes the reasoning backends that turn a work-order
// payload into a safety-check report.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/notify"
)

// Backend identifies which reasoning framework serves a request. The
// values are part of the client wire protocol.
type Backend string

const (
	// BackendBedrock is the streaming backend and the default selection.
	BackendBedrock Backend = "BedrockAgent"
	// BackendStrands is the delegating backend.
	BackendStrands Backend = "StrandsSDK"
)

// ParseBackend maps the client-supplied framework string to a Backend.
// Unknown or empty values select the default.
func ParseBackend(s string) Backend {
	if s == string(BackendStrands) {
		return BackendStrands
	}
	return BackendBedrock
}

// ErrNotConfigured means the invoker is missing backend identifiers and
// cannot run.
var ErrNotConfigured = errors.New("backend not configured")

// Request carries one safety-check job into an invoker. PushEndpoint is
// the per-message callback a delegating backend uses to reach the client
// directly; it is threaded through explicitly so concurrent requests can
// never observe each other's connection context.
type Request struct {
	Payload      string
	SessionID    string
	ConnectionID string
	PushEndpoint string
}

// Result is the outcome of an invocation. Text is the report (or a
// human-readable error description when Invoke also returns an error).
// Notified reports that the invocation path already delivered the
// terminal frame, so the caller must not emit a second one.
type Result struct {
	Text     string
	Notified bool
}

// Invoker is the pluggable invocation capability. Implementations may
// emit trace frames through n while running. At most one implementation
// component delivers the terminal frame per request, signalled by
// Result.Notified.
type Invoker interface {
	Invoke(ctx context.Context, n *notify.Notifier, req Request) (Result, error)
}

// Event is one unit of a streaming backend's chunked response. Exactly
// one of Chunk or Trace is set per unit.
type Event struct {
	Chunk string          `json:"chunk,omitempty"`
	Trace json.RawMessage `json:"trace,omitempty"`
}

// Stream iterates a backend's response units. Next returns io.EOF when
// the response is exhausted.
type Stream interface {
	Next() (Event, error)
}

// StreamRequest is the invocation input for a streaming backend.
type StreamRequest struct {
	InputText    string `json:"inputText"`
	AgentID      string `json:"agentId"`
	AgentAliasID string `json:"agentAliasId"`
	SessionID    string `json:"sessionId"`
	EnableTrace  bool   `json:"enableTrace"`
}

// StreamBackend is the boundary to a streaming reasoning service.
type StreamBackend interface {
	Invoke(ctx context.Context, req StreamRequest) (Stream, error)
}

// StreamInvoker runs the streaming backend: chunks accumulate into the
// final report while trace events are forwarded to the client as they
// arrive.
type StreamInvoker struct {
	Backend      StreamBackend
	Framework    Backend
	AgentID      string
	AgentAliasID string
}

func (s *StreamInvoker) Invoke(ctx context.Context, n *notify.Notifier, req Request) (Result, error) {
	if s.AgentID == "" || s.AgentAliasID == "" {
		err := fmt.Errorf("%w: agent id or alias id missing", ErrNotConfigured)
		return Result{Text: err.Error()}, err
	}

	stream, err := s.Backend.Invoke(ctx, StreamRequest{
		InputText:    req.Payload,
		AgentID:      s.AgentID,
		AgentAliasID: s.AgentAliasID,
		SessionID:    req.SessionID,
		EnableTrace:  true,
	})
	if err != nil {
		msg := fmt.Sprintf("error invoking %s backend: %v", s.Framework, err)
		return Result{Text: msg}, err
	}

	var b strings.Builder
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			msg := fmt.Sprintf("error reading %s response: %v", s.Framework, err)
			return Result{Text: msg}, err
		}
		if ev.Chunk != "" {
			b.WriteString(ev.Chunk)
		}
		if len(ev.Trace) > 0 {
			n.Send(ctx, req.ConnectionID, frame.Message{
				Type:           frame.TypeTrace,
				Content:        ev.Trace,
				AgentFramework: string(s.Framework),
			})
		}
	}
	return Result{Text: b.String()}, nil
}
