// Package credhttp fetches feedback authorization credentials from the
// issuer service. Credentials are requested fresh per submission; nothing
// is cached here.
package credhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agentsync/internal/domain"
)

type Client struct {
	baseURL string
	httpDo  func(*http.Request) (*http.Response, error)
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("credential issuer url is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpDo:  doer,
	}, nil
}

// Credential requests a fresh authorization for one (agent, client) pair.
func (c *Client) Credential(ctx context.Context, agentID domain.AgentID, client domain.Address) (domain.AuthCredential, error) {
	path := fmt.Sprintf("%s/v1/credentials/%d/%s", c.baseURL, agentID, client)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.AuthCredential{}, err
	}
	resp, err := c.httpDo(req)
	if err != nil {
		return domain.AuthCredential{}, &domain.TransientError{Op: "fetch credential", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.AuthCredential{}, &domain.TransientError{Op: "fetch credential", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return domain.AuthCredential{}, domain.ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.AuthCredential{}, &domain.TransientError{Op: "fetch credential", Err: fmt.Errorf("issuer returned %d", resp.StatusCode)}
	default:
		return domain.AuthCredential{}, fmt.Errorf("issuer returned %d", resp.StatusCode)
	}
	var cred domain.AuthCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		return domain.AuthCredential{}, fmt.Errorf("decode credential: %w", err)
	}
	return cred, nil
}
