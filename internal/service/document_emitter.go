package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmissionItem is one line of the document request sent to the collaborator.
type EmissionItem struct {
	SKU      string `json:"sku"`
	Bin      string `json:"bin"`
	Quantity int64  `json:"quantity"`
}

// EmissionRequest is the payload the engine submits to the document
// emission collaborator.
type EmissionRequest struct {
	SessionID    string         `json:"sessionId"`
	DocumentType string         `json:"documentType"`
	Destination  string         `json:"destination"`
	Items        []EmissionItem `json:"items"`
}

// EmissionResponse is the collaborator's success payload.
type EmissionResponse struct {
	DocumentID  string `json:"documentId"`
	DocumentURL string `json:"documentUrl"`
}

// HTTPEmitter calls the document emission service over HTTP.  Every call is
// bounded by the configured timeout; a timeout or any non-2xx status is a
// failure, never an unknown outcome — reconciling true state after a lost
// acknowledgment is the recovery subsystem's job.
type HTTPEmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEmitter returns an emitter posting to baseURL + "/documents".
func NewHTTPEmitter(baseURL string, timeout time.Duration) *HTTPEmitter {
	return &HTTPEmitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Emit submits the document request and decodes the success payload.
func (e *HTTPEmitter) Emit(ctx context.Context, req EmissionRequest) (*EmissionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal emission request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build emission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("emission call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("emission rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out EmissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode emission response: %w", err)
	}
	return &out, nil
}
