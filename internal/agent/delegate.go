package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsafe/safegate/internal/frame"
	"github.com/fieldsafe/safegate/internal/htmlx"
	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/notify"
)

// delegatePayload is the job handed to the supervisor service. The
// connection id and push endpoint let it stream frames to the client
// directly, bypassing the gateway.
type delegatePayload struct {
	InputText       string `json:"inputText"`
	SessionID       string `json:"sessionId"`
	ConnectionID    string `json:"connectionId"`
	PushEndpoint    string `json:"pushEndpoint"`
	EnableStreaming bool   `json:"enableStreaming"`
}

// DelegateInvoker hands the whole job to a second service and blocks for
// its synchronous result. On success it owns the terminal frame: it sends
// the final itself and returns Notified so the dispatcher only persists.
type DelegateInvoker struct {
	URL       string
	Framework Backend
	Client    *http.Client
}

// NewDelegateInvoker returns an invoker posting jobs to url.
func NewDelegateInvoker(url string, timeout time.Duration) *DelegateInvoker {
	return &DelegateInvoker{
		URL:       url,
		Framework: BackendStrands,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (d *DelegateInvoker) Invoke(ctx context.Context, n *notify.Notifier, req Request) (Result, error) {
	if d.URL == "" {
		err := fmt.Errorf("%w: delegate service URL missing", ErrNotConfigured)
		return Result{Text: err.Error()}, err
	}

	n.Send(ctx, req.ConnectionID, frame.Message{
		Type:           frame.TypeTrace,
		Content:        initialTrace(),
		AgentFramework: string(d.Framework),
	})

	body, err := json.Marshal(delegatePayload{
		InputText:       req.Payload,
		SessionID:       req.SessionID,
		ConnectionID:    req.ConnectionID,
		PushEndpoint:    req.PushEndpoint,
		EnableStreaming: true,
	})
	if err != nil {
		return Result{Text: err.Error()}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Text: err.Error()}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		msg := fmt.Sprintf("error invoking %s backend: %v", d.Framework, err)
		return Result{Text: msg}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		msg := fmt.Sprintf("error reading %s response: %v", d.Framework, err)
		return Result{Text: msg}, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s backend returned status %d: %s", d.Framework, resp.StatusCode, raw)
		return Result{Text: err.Error()}, err
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		msg := fmt.Sprintf("error decoding %s response: %v", d.Framework, err)
		return Result{Text: msg}, err
	}
	if errVal, ok := result["error"]; ok {
		err := fmt.Errorf("%s backend error: %v", d.Framework, errVal)
		return Result{Text: err.Error()}, err
	}

	text, path := ExtractText(result)
	logx.Log.Debug().Str("extraction_path", path).Int("length", len(text)).Msg("delegate result extracted")

	cleaned := htmlx.Clean(text)
	requestID := fmt.Sprintf("ws-strands-%s-%d", req.ConnectionID, time.Now().Unix())
	n.Send(ctx, req.ConnectionID, frame.Message{
		Type:                   frame.TypeFinal,
		RequestID:              requestID,
		Status:                 "COMPLETED",
		SafetyCheckResponse:    cleaned,
		SafetyCheckPerformedAt: time.Now().Format(time.RFC3339Nano),
		AgentFramework:         string(d.Framework),
	})
	return Result{Text: cleaned, Notified: true}, nil
}

// initialTrace is the synthetic progress event emitted before handing the
// job off, so the client sees activity during the synchronous wait.
func initialTrace() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"trace": map[string]any{
			"orchestrationTrace": map[string]any{
				"invocationInput": map[string]any{
					"invocationType": "SUPERVISOR_AGENT",
					"invocationId":   uuid.NewString(),
					"text":           "Initializing safety supervisor agent",
				},
			},
		},
	})
	return b
}
