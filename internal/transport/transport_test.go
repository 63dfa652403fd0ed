package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/fieldsafe/safegate/internal/agent"
	"github.com/fieldsafe/safegate/internal/authn"
	"github.com/fieldsafe/safegate/internal/dispatch"
	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/notify"
	"github.com/fieldsafe/safegate/internal/registry"
)

type staticVerifier struct{ err error }

func (s staticVerifier) Verify(context.Context, string) (authn.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return authn.Claims{"email": "tech@example.com"}, nil
}

type staticInvoker struct{ result agent.Result }

func (s staticInvoker) Invoke(context.Context, *notify.Notifier, agent.Request) (agent.Result, error) {
	return s.result, nil
}

// pairServer accepts one websocket, parks it in the hub under a fixed
// id, and holds it open until release is closed.
func pairServer(t *testing.T, hub *Hub, id string) (*websocket.Conn, func()) {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hub.Add(id, c)
		<-release
		_ = c.Close(websocket.StatusNormalClosure, "done")
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		cancel()
		close(release)
		_ = conn.Close(websocket.StatusNormalClosure, "done")
		srv.Close()
	}
}

func TestHubSendUnknownConnection(t *testing.T) {
	hub := NewHub()
	err := hub.Send(context.Background(), "nope", []byte("x"))
	if !errors.Is(err, notify.ErrGone) {
		t.Fatalf("err = %v; want ErrGone", err)
	}
}

func TestHubSendDelivers(t *testing.T) {
	hub := NewHub()
	conn, cleanup := pairServer(t, hub, "c1")
	defer cleanup()

	if hub.Len() != 1 {
		t.Fatalf("Len = %d; want 1", hub.Len())
	}
	if err := hub.Send(context.Background(), "c1", []byte(`{"hello":true}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"hello":true}` {
		t.Fatalf("data = %s", data)
	}

	hub.Remove("c1")
	if hub.Len() != 0 {
		t.Fatalf("Len after remove = %d", hub.Len())
	}
	if err := hub.Send(context.Background(), "c1", []byte("x")); !errors.Is(err, notify.ErrGone) {
		t.Fatalf("err after remove = %v; want ErrGone", err)
	}
}

func TestWSHandlerEndToEnd(t *testing.T) {
	hub := NewHub()
	d := &dispatch.Dispatcher{
		Registry: registry.NewMemoryStore(),
		Verifier: staticVerifier{},
		Invokers: map[agent.Backend]agent.Invoker{
			agent.BackendBedrock: staticInvoker{result: agent.Result{Text: "<div>All clear</div>"}},
		},
		ConnectionTTL: time.Minute,
	}
	srv := httptest.NewServer(WSHandler(hub, d, ""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"token":"t"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if f.Message.Type != frame.TypeFinal {
		t.Fatalf("type = %q; want final", f.Message.Type)
	}
	if f.Message.SafetyCheckResponse != "<div>All clear</div>" {
		t.Fatalf("response = %q", f.Message.SafetyCheckResponse)
	}
}

func TestWSHandlerRejectsBadMessage(t *testing.T) {
	hub := NewHub()
	d := &dispatch.Dispatcher{
		Registry:      registry.NewMemoryStore(),
		Verifier:      staticVerifier{err: errors.New("bad signature")},
		Invokers:      map[agent.Backend]agent.Invoker{},
		ConnectionTTL: time.Minute,
	}
	srv := httptest.NewServer(WSHandler(hub, d, ""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"token":"bad"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ack struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if ack.StatusCode != http.StatusForbidden {
		t.Fatalf("statusCode = %d; want 403", ack.StatusCode)
	}
}

func TestPushHandler(t *testing.T) {
	hub := NewHub()
	conn, cleanup := pairServer(t, hub, "c1")
	defer cleanup()

	push := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/connections/"+id, bytes.NewReader([]byte(body)))
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rr := httptest.NewRecorder()
		PushHandler(hub)(rr, req)
		return rr
	}

	rr := push("c1", `{"message":{"type":"trace"}}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("code = %d; want 204", rr.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "trace") {
		t.Fatalf("data = %s", data)
	}

	if rr := push("ghost", `{}`); rr.Code != http.StatusGone {
		t.Fatalf("gone code = %d; want 410", rr.Code)
	}
	if rr := push("c1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty-body code = %d; want 400", rr.Code)
	}
}
