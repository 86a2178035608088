package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 << 20

	findRulesPath  = "/api/detection_engine/rules/_find"
	bulkActionPath = "/api/detection_engine/rules/_bulk_action"
)

// KibanaOptions configures a KibanaClient.
type KibanaOptions struct {
	BaseURL string
	// Space is the Kibana space id. Empty means the default space.
	Space  string
	APIKey string
	// OAuth client credentials are used when APIKey is empty.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthScopes       []string
	Timeout           time.Duration
}

// KibanaClient talks to the Kibana detection engine API.
type KibanaClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Ensure KibanaClient implements Client.
var _ Client = (*KibanaClient)(nil)

// NewKibanaClient creates a new KibanaClient.
func NewKibanaClient(ctx context.Context, opts KibanaOptions) (*KibanaClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("kibana base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing kibana base URL: %w", err)
	}
	if space := strings.TrimSpace(opts.Space); space != "" && space != "default" {
		base += "/s/" + url.PathEscape(space)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &KibanaClient{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey)}
	switch {
	case c.apiKey != "":
		c.http = &http.Client{Timeout: timeout}
	case opts.OAuthClientID != "":
		cc := &clientcredentials.Config{
			ClientID:     opts.OAuthClientID,
			ClientSecret: opts.OAuthClientSecret,
			TokenURL:     opts.OAuthTokenURL,
			Scopes:       opts.OAuthScopes,
		}
		c.http = cc.Client(ctx)
		c.http.Timeout = timeout
	default:
		return nil, errors.New("kibana api key or oauth client credentials are required")
	}
	return c, nil
}

type findRulesResponse struct {
	Page    int                       `json:"page"`
	PerPage int                       `json:"perPage"`
	Total   int                       `json:"total"`
	Data    []domain.DetectionRuleRef `json:"data"`
}

// FindRules searches detection rules by tags.
func (c *KibanaClient) FindRules(ctx context.Context, tags []string, perPage int) ([]domain.DetectionRuleRef, error) {
	if perPage <= 0 {
		perPage = 1
	}
	q := url.Values{}
	q.Set("filter", TagsToKQL(tags))
	q.Set("page", "1")
	q.Set("per_page", strconv.Itoa(perPage))

	body, err := c.do(ctx, http.MethodGet, findRulesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var payload findRulesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding find rules response: %w", err)
	}
	return payload.Data, nil
}

type bulkActionRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

type bulkActionResponse struct {
	Success    bool `json:"success"`
	RulesCount int  `json:"rules_count"`
	Attributes struct {
		Results struct {
			Updated []domain.DetectionRuleRef `json:"updated"`
		} `json:"results"`
		Summary struct {
			Failed    int `json:"failed"`
			Succeeded int `json:"succeeded"`
			Total     int `json:"total"`
		} `json:"summary"`
	} `json:"attributes"`
}

// BulkDisable disables the given detection rules.
func (c *KibanaClient) BulkDisable(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	payload, err := json.Marshal(bulkActionRequest{Action: "disable", IDs: ids})
	if err != nil {
		return 0, err
	}
	body, err := c.do(ctx, http.MethodPost, bulkActionPath, payload)
	if err != nil {
		// A partial failure is answered with 500 but still lists the rules
		// that were updated.
		var resp bulkActionResponse
		if len(body) > 0 && json.Unmarshal(body, &resp) == nil {
			return len(resp.Attributes.Results.Updated), err
		}
		return 0, err
	}
	var resp bulkActionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding bulk action response: %w", err)
	}
	if resp.Attributes.Summary.Failed > 0 {
		return len(resp.Attributes.Results.Updated), fmt.Errorf("kibana failed to disable %d of %d detection rules",
			resp.Attributes.Summary.Failed, resp.Attributes.Summary.Total)
	}
	return len(resp.Attributes.Results.Updated), nil
}

// do sends one request. On a non-2xx status the error is returned together
// with the response body.
func (c *KibanaClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("kbn-xsrf", "true")
	req.Header.Set("User-Agent", "csp-rule-manager")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, formatAPIError(method, path, resp.StatusCode, body)
	}
	return body, nil
}

func formatAPIError(method, path string, status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return fmt.Errorf("kibana api %s %s failed with status %d: %s", method, path, status, msg)
}
