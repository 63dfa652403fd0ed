package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStreamBackend talks to a streaming reasoning service that returns
// newline-delimited JSON events, each carrying a chunk of report text or
// a trace object.
type HTTPStreamBackend struct {
	BaseURL    string
	httpClient *http.Client
}

// NewHTTPStreamBackend returns a backend client for base. The timeout
// bounds the whole invocation including the streamed read.
func NewHTTPStreamBackend(base string, timeout time.Duration) *HTTPStreamBackend {
	return &HTTPStreamBackend{BaseURL: base, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPStreamBackend) Invoke(ctx context.Context, req StreamRequest) (Stream, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoke?stream=true", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, body)
	}
	return &ndjsonStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// ndjsonStream decodes one Event per non-empty line of the response body.
type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *ndjsonStream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			_ = s.body.Close()
			return Event{}, fmt.Errorf("decode backend event: %w", err)
		}
		return ev, nil
	}
	err := s.scanner.Err()
	_ = s.body.Close()
	if err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
