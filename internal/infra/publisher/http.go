package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/relay/internal/core/domain"
)

// HTTPClient talks to a graph style JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type apiErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type nodeResponse struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category string        `json:"category"`
	Error    *apiErrorBody `json:"error"`
}

type permissionsResponse struct {
	Data []struct {
		Permission string `json:"permission"`
		Status     string `json:"status"`
	} `json:"data"`
	Error *apiErrorBody `json:"error"`
}

type postResponse struct {
	ID    string        `json:"id"`
	Error *apiErrorBody `json:"error"`
}

// NewHTTPClient creates a new HTTP publishing client.
func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(cfg.Timeout),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: newLimiter(cfg.RatePerSecond, cfg.Burst),
	}
}

// Validate resolves a secret. Page resolution is tried first when a target
// hint is given or a page is requested; auto falls back to user resolution.
func (c *HTTPClient) Validate(
	ctx context.Context,
	secret, targetHint string,
	kind domain.CredentialKind,
) (domain.Identity, error) {
	if kind != domain.KindUser && (targetHint != "" || kind == domain.KindPage) {
		ident, err := c.resolvePage(ctx, secret, targetHint)
		if err == nil {
			return ident, nil
		}
		if kind == domain.KindPage {
			return domain.Identity{}, err
		}
	}
	return c.resolveUser(ctx, secret)
}

func (c *HTTPClient) resolvePage(ctx context.Context, secret, node string) (domain.Identity, error) {
	if node == "" {
		node = "me"
	}

	var resp nodeResponse
	if err := c.get(ctx, secret, node, url.Values{"fields": {"id,name,category"}}, &resp); err != nil {
		return domain.Identity{}, err
	}
	if resp.Error != nil {
		return domain.Identity{}, &APIError{Message: resp.Error.Message, Code: resp.Error.Code}
	}
	if resp.Name == "" || resp.Category == "" {
		return domain.Identity{}, fmt.Errorf("%s is not a page", node)
	}

	caps, err := c.capabilities(ctx, secret)
	if err != nil {
		slog.Warn("Failed to read page capabilities", "page", resp.Name, "error", err)
	}

	return domain.Identity{
		ID:           resp.ID,
		DisplayName:  resp.Name,
		Kind:         domain.KindPage,
		Capabilities: caps,
	}, nil
}

func (c *HTTPClient) resolveUser(ctx context.Context, secret string) (domain.Identity, error) {
	var resp nodeResponse
	if err := c.get(ctx, secret, "me", url.Values{"fields": {"id,name,category"}}, &resp); err != nil {
		return domain.Identity{}, err
	}
	if resp.Error != nil {
		return domain.Identity{}, &APIError{Message: resp.Error.Message, Code: resp.Error.Code}
	}
	if resp.Name == "" {
		return domain.Identity{}, fmt.Errorf("identity has no name")
	}

	ident := domain.Identity{ID: resp.ID, DisplayName: resp.Name, Kind: domain.KindUser}
	if resp.Category == "" {
		return ident, nil
	}

	ident.Kind = domain.KindPage
	caps, err := c.capabilities(ctx, secret)
	if err != nil {
		slog.Warn("Failed to read page capabilities", "page", resp.Name, "error", err)
	}
	ident.Capabilities = caps
	return ident, nil
}

func (c *HTTPClient) capabilities(ctx context.Context, secret string) ([]string, error) {
	var resp permissionsResponse
	if err := c.get(ctx, secret, "me/permissions", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &APIError{Message: resp.Error.Message, Code: resp.Error.Code}
	}

	var caps []string
	for _, p := range resp.Data {
		if p.Status == "granted" {
			caps = append(caps, p.Permission)
		}
	}
	return caps, nil
}

// Post publishes message on target. Transport level failures are flagged so
// the caller does not text-match them.
func (c *HTTPClient) Post(
	ctx context.Context,
	target, message string,
	cred domain.Credential,
) domain.PostResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.PostResult{Transport: true, ErrorMessage: err.Error()}
	}

	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return domain.PostResult{ErrorMessage: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	endpoint := c.baseURL + "/" + url.PathEscape(target) + "/comments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PostResult{ErrorMessage: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PostResult{Transport: true, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PostResult{Transport: true, ErrorMessage: fmt.Sprintf("failed to read response: %v", err)}
	}

	var out postResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.PostResult{
			ErrorMessage: fmt.Sprintf("unexpected response (status %d)", resp.StatusCode),
			ErrorCode:    resp.StatusCode,
		}
	}
	if out.Error != nil {
		return domain.PostResult{ErrorMessage: out.Error.Message, ErrorCode: out.Error.Code}
	}
	if out.ID == "" {
		return domain.PostResult{
			ErrorMessage: fmt.Sprintf("Unknown error (status %d)", resp.StatusCode),
			ErrorCode:    resp.StatusCode,
		}
	}
	return domain.PostResult{OK: true, PostID: out.ID}
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) get(ctx context.Context, secret, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
