package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snapaid/internal/apperr"
)

const maxResponseBytes = 1 << 20

// RemoteClient calls the external inference service over HTTP.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient targets baseURL. A zero timeout keeps the transport default.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify posts the case input to /predict.
func (c *RemoteClient) Classify(ctx context.Context, in Input) (*Result, error) {
	status, body, err := c.post(ctx, "/predict", in)
	if err != nil {
		return nil, &apperr.ClassificationError{Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &apperr.ClassificationError{StatusCode: status, Err: upstreamError(body)}
	}
	res, err := ParseResult(body)
	if err != nil {
		return nil, &apperr.ClassificationError{StatusCode: status, Err: err}
	}
	return res, nil
}

// QuizSubmission is forwarded to the inference service's quiz scorer.
type QuizSubmission struct {
	QuizType  string          `json:"quiz_type"`
	Responses json.RawMessage `json:"responses"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

// SubmitQuiz forwards a quiz and returns the upstream status and body as-is.
func (c *RemoteClient) SubmitQuiz(ctx context.Context, q QuizSubmission) (int, json.RawMessage, error) {
	if q.UserID == "" {
		q.UserID = "anonymous"
	}
	if len(q.Metadata) == 0 {
		q.Metadata = json.RawMessage(`{}`)
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	status, body, err := c.post(ctx, "/quiz", q)
	if err != nil {
		return 0, nil, &apperr.ClassificationError{Err: err}
	}
	if !json.Valid(body) {
		body, _ = json.Marshal(string(body))
	}
	return status, body, nil
}

func (c *RemoteClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, body, nil
}

func upstreamError(body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("upstream: %s", payload.Error)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("upstream: %s", msg)
}
