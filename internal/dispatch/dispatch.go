// Package dispatch routes transport events through the gateway: auth,
// backend invocation, normalization, persistence, and client delivery.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsafe/safegate/internal/agent"
	"github.com/fieldsafe/safegate/internal/authn"
	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/htmlx"
	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/metrics"
	"github.com/fieldsafe/safegate/internal/notify"
	"github.com/fieldsafe/safegate/internal/registry"
	"github.com/fieldsafe/safegate/internal/workorder"
)

// Route distinguishes the three transport event kinds.
type Route string

const (
	RouteConnect    Route = "$connect"
	RouteDisconnect Route = "$disconnect"
	RouteDefault    Route = "$default"
)

// Event is one transport occurrence. Push is the per-event delivery
// mechanism for this connection; it is carried on the event rather than
// held by the dispatcher so concurrent events cannot share connection
// context.
type Event struct {
	Route        Route
	ConnectionID string
	Body         []byte
	PushEndpoint string
	Push         notify.Sender
}

// Result is what the transport reports back to its caller. Status uses
// HTTP semantics.
type Result struct {
	Status int
	Body   string
}

// Verifier validates a bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (authn.Claims, error)
}

// Dispatcher owns the per-event state machine. All fields are read-only
// after construction, so one Dispatcher serves concurrent events.
type Dispatcher struct {
	Registry      registry.Store
	Verifier      Verifier
	Invokers      map[agent.Backend]agent.Invoker
	WorkOrders    workorder.Store
	ConnectionTTL time.Duration
}

// inboundMessage is the client wire shape for a data message.
type inboundMessage struct {
	Token            string         `json:"token"`
	SessionID        string         `json:"session_id"`
	AgentFramework   string         `json:"agentFramework"`
	WorkOrderDetails map[string]any `json:"workOrderDetails"`
	MessageType      string         `json:"messageType"`
}

// Handle processes one event. It never panics: any failure below this
// boundary becomes a best-effort error frame and a 500 result, so a bad
// request cannot take the gateway down or affect other connections.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Str("connection_id", ev.ConnectionID).Interface("panic", r).Msg("event handler panic")
			if ev.Push != nil {
				n := notify.New(ev.Push, d.Registry)
				n.Send(ctx, ev.ConnectionID, frame.Message{
					Type:                frame.TypeError,
					Status:              "COMPLETED",
					SafetyCheckResponse: fmt.Sprintf("Error in performing safety check: %v", r),
					AgentFramework:      string(agent.BackendBedrock),
				})
			}
			res = Result{Status: http.StatusInternalServerError, Body: "internal server error"}
		}
	}()

	if ev.ConnectionID == "" {
		return Result{Status: http.StatusBadRequest, Body: "missing connection id"}
	}

	switch ev.Route {
	case RouteConnect:
		return d.handleConnect(ctx, ev)
	case RouteDisconnect:
		return d.handleDisconnect(ctx, ev)
	case RouteDefault:
		return d.handleMessage(ctx, ev)
	default:
		return Result{Status: http.StatusBadRequest, Body: fmt.Sprintf("unsupported route: %s", ev.Route)}
	}
}

// handleConnect registers the connection. Registry trouble is logged
// but the connect is still acknowledged.
func (d *Dispatcher) handleConnect(ctx context.Context, ev Event) Result {
	logx.Log.Info().Str("connection_id", ev.ConnectionID).Msg("connection opened")
	if err := d.Registry.Put(ctx, ev.ConnectionID, d.ConnectionTTL); err != nil {
		logx.Log.Error().Err(err).Str("connection_id", ev.ConnectionID).Msg("register connection")
	}
	return Result{Status: http.StatusOK, Body: "Connected"}
}

// handleDisconnect drops the registry entry. Idempotent; never fails
// the transport.
func (d *Dispatcher) handleDisconnect(ctx context.Context, ev Event) Result {
	logx.Log.Info().Str("connection_id", ev.ConnectionID).Msg("connection closed")
	if err := d.Registry.Delete(ctx, ev.ConnectionID); err != nil {
		logx.Log.Error().Err(err).Str("connection_id", ev.ConnectionID).Msg("deregister connection")
	}
	return Result{Status: http.StatusOK, Body: "Disconnected"}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) Result {
	if len(ev.Body) == 0 {
		return Result{Status: http.StatusBadRequest, Body: "missing request body"}
	}
	var msg inboundMessage
	if err := json.Unmarshal(ev.Body, &msg); err != nil {
		logx.Log.Warn().Err(err).Str("connection_id", ev.ConnectionID).Msg("invalid message body")
		return Result{Status: http.StatusBadRequest, Body: "invalid JSON in request body"}
	}

	// Heartbeats keep the socket warm and touch nothing else.
	if msg.MessageType == "heartbeat" {
		logx.Log.Debug().Str("connection_id", ev.ConnectionID).Msg("heartbeat")
		return Result{Status: http.StatusOK, Body: `{"message":"Heartbeat received, no action taken"}`}
	}

	if ev.Push == nil {
		logx.Log.Error().Str("connection_id", ev.ConnectionID).Msg("no push transport on message event")
		return Result{Status: http.StatusInternalServerError, Body: "missing push transport"}
	}

	if msg.Token == "" {
		logx.Log.Warn().Str("connection_id", ev.ConnectionID).Msg("token missing")
		return Result{Status: http.StatusForbidden, Body: "token is required"}
	}
	claims, err := d.Verifier.Verify(ctx, msg.Token)
	if err != nil {
		metrics.RecordAuthFailure()
		logx.Log.Warn().Err(err).Str("connection_id", ev.ConnectionID).Msg("token verification failed")
		return Result{Status: http.StatusForbidden, Body: "invalid token"}
	}
	email, _ := claims["email"].(string)
	if email == "" {
		email = "unknown"
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	backend := agent.ParseBackend(msg.AgentFramework)
	logx.Log.Info().
		Str("connection_id", ev.ConnectionID).
		Str("session_id", sessionID).
		Str("backend", string(backend)).
		Str("user", email).
		Msg("processing message")

	// The backend sees only the work-order content when present, not the
	// whole envelope.
	payload := d.buildPayload(ev.Body, msg)

	invoker, ok := d.Invokers[backend]
	if !ok {
		return d.finish(ctx, ev, backend, agent.Result{
			Text: fmt.Sprintf("no invoker configured for backend %s", backend),
		}, fmt.Errorf("no invoker for %s", backend), msg)
	}

	n := notify.New(ev.Push, d.Registry)
	start := time.Now()
	result, invErr := invoker.Invoke(ctx, n, agent.Request{
		Payload:      payload,
		SessionID:    sessionID,
		ConnectionID: ev.ConnectionID,
		PushEndpoint: ev.PushEndpoint,
	})
	metrics.ObserveBackendDuration(string(backend), time.Since(start))
	metrics.RecordRequest(string(backend), invErr == nil)

	return d.finish(ctx, ev, backend, result, invErr, msg)
}

// finish persists the outcome and emits the terminal frame, unless the
// invocation path already delivered it.
func (d *Dispatcher) finish(ctx context.Context, ev Event, backend agent.Backend, result agent.Result, invErr error, msg inboundMessage) Result {
	performedAt := time.Now()
	text := result.Text
	if invErr == nil {
		text = htmlx.Clean(text)
	} else if text == "" {
		text = invErr.Error()
	}

	d.persist(ctx, msg, text, performedAt)

	if !result.Notified {
		typ := frame.TypeFinal
		if invErr != nil {
			typ = frame.TypeError
		}
		n := notify.New(ev.Push, d.Registry)
		n.Send(ctx, ev.ConnectionID, frame.Message{
			Type:                   typ,
			RequestID:              fmt.Sprintf("ws-%s-%d", ev.ConnectionID, performedAt.Unix()),
			Status:                 "COMPLETED",
			SafetyCheckResponse:    text,
			SafetyCheckPerformedAt: performedAt.Format(time.RFC3339Nano),
			AgentFramework:         string(backend),
		})
	}
	return Result{Status: http.StatusOK, Body: "Message sent"}
}

// persist merges the result into the work-order record when the message
// names one. Failures are logged and never surfaced to the client.
func (d *Dispatcher) persist(ctx context.Context, msg inboundMessage, text string, performedAt time.Time) {
	if d.WorkOrders == nil || msg.WorkOrderDetails == nil {
		return
	}
	workOrderID, _ := msg.WorkOrderDetails["work_order_id"].(string)
	if workOrderID == "" {
		logx.Log.Warn().Msg("no work_order_id in workOrderDetails, skipping update")
		return
	}
	stored := htmlx.Extract(text)
	if err := d.WorkOrders.UpdateSafetyCheck(ctx, workOrderID, stored, performedAt); err != nil {
		logx.Log.Error().Err(err).Str("work_order_id", workOrderID).Msg("update work order")
		return
	}
	logx.Log.Info().Str("work_order_id", workOrderID).Msg("work order updated")
}

// buildPayload serializes the work-order details alone when present, and
// otherwise the normalized whole message.
func (d *Dispatcher) buildPayload(body []byte, msg inboundMessage) string {
	if msg.WorkOrderDetails != nil {
		if b, err := json.Marshal(msg.WorkOrderDetails); err == nil {
			return string(b)
		}
	}
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err == nil {
		if b, err := json.Marshal(generic); err == nil {
			return string(b)
		}
	}
	return string(body)
}
