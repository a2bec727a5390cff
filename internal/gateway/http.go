package gateway

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
)

// HTTPConfig configures HTTPGateway.
type HTTPConfig struct {
	BaseURL string
	AppID   string
	AppHash string
	Timeout time.Duration
}

// HTTPGateway talks to a remote authorization service.
//
//	POST {base}/v1/sessions               {"phone","code","password"} -> {"session_token"}
//	POST {base}/v1/sessions/{phone}/codes                             -> {"code"}
type HTTPGateway struct {
	baseURL string
	appID   string
	appHash string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client. Timeout defaults to 15s.
func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		appHash: cfg.AppHash,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type authorizeRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

type authorizeResponse struct {
	SessionToken string `json:"session_token"`
}

type codeResponse struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, identity, oneTimeCode, secret string) (string, error) {
	body, err := json.Marshal(authorizeRequest{Phone: identity, Code: oneTimeCode, Password: secret})
	if err != nil {
		return "", &AuthError{Identity: identity, Cause: err}
	}

	var out authorizeResponse
	status, err := g.post(ctx, "/v1/sessions", body, &out)
	if err != nil {
		return "", &AuthError{Identity: identity, Cause: err}
	}
	if status/100 != 2 {
		return "", &AuthError{Identity: identity, Cause: fmt.Errorf("gateway returned %d", status)}
	}
	if out.SessionToken == "" {
		return "", &AuthError{Identity: identity, Cause: errors.New("empty session token")}
	}
	return out.SessionToken, nil
}

func (g *HTTPGateway) IssueOneTimeCode(ctx context.Context, identity string) (string, error) {
	var out codeResponse
	status, err := g.post(ctx, "/v1/sessions/"+url.PathEscape(identity)+"/codes", nil, &out)
	if err != nil {
		return "", fmt.Errorf("failed to request code: %w", err)
	}
	switch {
	case codeGone(status):
		return "", ErrCodeNotAvailable
	case status/100 != 2:
		return "", fmt.Errorf("failed to request code: gateway returned %d", status)
	case out.Code == "":
		return "", ErrCodeNotAvailable
	}
	return out.Code, nil
}

// codeGone reports statuses meaning the session can no longer issue codes.
func codeGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// post sends body and decodes a 2xx JSON response into out. Non-2xx
// responses return their status with a nil error unless the body carries
// an error message.
func (g *HTTPGateway) post(ctx context.Context, path string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Id", g.appID)
	req.Header.Set("X-App-Hash", g.appHash)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" && !codeGone(resp.StatusCode) {
			return resp.StatusCode, errors.New(e.Error)
		}
		return resp.StatusCode, nil
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid gateway response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ Gateway = (*HTTPGateway)(nil)
