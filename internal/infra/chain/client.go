// Package chain talks to the ledger gateway over HTTP. Reads cover the
// three registries plus block headers; writes are submitted transactions
// whose effects come back later as indexed events.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentsync/internal/domain"
)

type Client struct {
	baseURL string
	httpDo  func(*http.Request) (*http.Response, error)

	pollInterval time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, pollInterval time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("chain base url is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpDo:       doer,
		pollInterval: pollInterval,
	}, nil
}

// --- reads ---

func (c *Client) Latest(ctx context.Context) (domain.BlockRef, error) {
	var head domain.BlockRef
	if err := c.getJSON(ctx, "/v1/chain/head", nil, &head); err != nil {
		return domain.BlockRef{}, err
	}
	return head, nil
}

func (c *Client) Header(ctx context.Context, number uint64) (domain.BlockRef, error) {
	var header domain.BlockRef
	path := fmt.Sprintf("/v1/chain/blocks/%d", number)
	if err := c.getJSON(ctx, path, nil, &header); err != nil {
		return domain.BlockRef{}, err
	}
	return header, nil
}

func (c *Client) Events(ctx context.Context, from, to uint64) ([]domain.RawEvent, error) {
	query := url.Values{}
	query.Set("from", fmt.Sprintf("%d", from))
	query.Set("to", fmt.Sprintf("%d", to))
	var events []domain.RawEvent
	if err := c.getJSON(ctx, "/v1/chain/events", query, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Notify polls the head and delivers each newly seen block. The channel
// closes when ctx is done.
func (c *Client) Notify(ctx context.Context) (<-chan domain.BlockRef, error) {
	out := make(chan domain.BlockRef, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		var lastHash string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			head, err := c.Latest(ctx)
			if err != nil {
				continue
			}
			if head.Hash == lastHash {
				continue
			}
			lastHash = head.Hash
			select {
			case out <- head:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) TokenURI(ctx context.Context, agentID domain.AgentID) (string, error) {
	var resp struct {
		TokenURI string `json:"token_uri"`
	}
	path := fmt.Sprintf("/v1/identity/agents/%d/token-uri", agentID)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.TokenURI, nil
}

func (c *Client) GetMetadata(ctx context.Context, agentID domain.AgentID, key string) ([]byte, error) {
	var resp struct {
		Value []byte `json:"value"`
	}
	path := fmt.Sprintf("/v1/identity/agents/%d/metadata/%s", agentID, url.PathEscape(key))
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) GetValidationStatus(ctx context.Context, requestHash string) (domain.ValidationStatus, error) {
	var resp struct {
		Status domain.ValidationStatus `json:"status"`
	}
	path := "/v1/validation/requests/" + url.PathEscape(requestHash) + "/status"
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- writes ---

func (c *Client) Register(ctx context.Context, tokenURI string, metadata map[string][]byte) (domain.AgentID, domain.WriteReceipt, error) {
	body := map[string]any{"token_uri": tokenURI, "metadata": metadata}
	var resp struct {
		AgentID domain.AgentID `json:"agent_id"`
		TxHash  string         `json:"tx_hash"`
	}
	if err := c.postJSON(ctx, "register", "/v1/identity/register", body, &resp); err != nil {
		return 0, domain.WriteReceipt{}, err
	}
	return resp.AgentID, domain.WriteReceipt{TxHash: resp.TxHash}, nil
}

func (c *Client) SetMetadata(ctx context.Context, agentID domain.AgentID, key string, value []byte) (domain.WriteReceipt, error) {
	body := map[string]any{"agent_id": agentID, "key": key, "value": value}
	return c.submit(ctx, "setMetadata", "/v1/identity/metadata", body)
}

func (c *Client) ValidationRequest(ctx context.Context, validator domain.Address, agentID domain.AgentID, requestURI, contentHash string) (domain.WriteReceipt, error) {
	body := map[string]any{
		"validator":    validator,
		"agent_id":     agentID,
		"request_uri":  requestURI,
		"content_hash": contentHash,
	}
	return c.submit(ctx, "validationRequest", "/v1/validation/requests", body)
}

func (c *Client) ValidationResponse(ctx context.Context, requestHash string, score uint8, responseURI, responseHash, tag string) (domain.WriteReceipt, error) {
	body := map[string]any{
		"request_hash":  requestHash,
		"score":         score,
		"response_uri":  responseURI,
		"response_hash": responseHash,
		"tag":           tag,
	}
	return c.submit(ctx, "validationResponse", "/v1/validation/responses", body)
}

func (c *Client) GiveFeedback(ctx context.Context, agentID domain.AgentID, score uint8, tag1, tag2, fileURI, fileHash string, cred domain.AuthCredential) (domain.WriteReceipt, error) {
	body := map[string]any{
		"agent_id":  agentID,
		"score":     score,
		"tag1":      tag1,
		"tag2":      tag2,
		"file_uri":  fileURI,
		"file_hash": fileHash,
		"auth":      cred,
	}
	return c.submit(ctx, "giveFeedback", "/v1/reputation/feedback", body)
}

func (c *Client) RevokeFeedback(ctx context.Context, agentID domain.AgentID, feedbackIndex uint64) (domain.WriteReceipt, error) {
	body := map[string]any{"agent_id": agentID, "feedback_index": feedbackIndex}
	return c.submit(ctx, "revokeFeedback", "/v1/reputation/feedback/revoke", body)
}

func (c *Client) AppendResponse(ctx context.Context, agentID domain.AgentID, client domain.Address, feedbackIndex uint64, responseURI, responseHash string) (domain.WriteReceipt, error) {
	body := map[string]any{
		"agent_id":       agentID,
		"client":         client,
		"feedback_index": feedbackIndex,
		"response_uri":   responseURI,
		"response_hash":  responseHash,
	}
	return c.submit(ctx, "appendResponse", "/v1/reputation/feedback/responses", body)
}

// --- transport ---

func (c *Client) submit(ctx context.Context, op, path string, body any) (domain.WriteReceipt, error) {
	var resp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.postJSON(ctx, op, path, body, &resp); err != nil {
		return domain.WriteReceipt{}, err
	}
	return domain.WriteReceipt{TxHash: resp.TxHash}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, "read "+path, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpDo(req)
	if err != nil {
		return &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Op: op, Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &domain.TransientError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.RejectedWriteError{Op: op, Code: rejectionCode(payload, resp.StatusCode)}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func rejectionCode(payload []byte, status int) string {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Code != "" {
			return body.Code
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("http_%d", status)
}
