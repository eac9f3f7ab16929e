package remote

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
	"unicode/utf8"

	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

const (
	DefaultBaseURL = "https://api.uigen.dev"
	defaultTimeout = 30 * time.Second

	// maxLoggedCode caps how much of a code field ends up in verbose logs.
	maxLoggedCode = 120
)

type apiRequest struct {
	Description string `json:"description"`
	Framework   string `json:"framework"`
	Styling     string `json:"styling"`
}

type apiSubmission struct {
	SessionID  string    `json:"sessionId"`
	GalleryURL string    `json:"galleryUrl"`
	Error      *apiError `json:"error,omitempty"`
}

type apiSession struct {
	ID                  string         `json:"id"`
	Status              string         `json:"status"`
	CreatedAt           time.Time      `json:"createdAt"`
	ExpiresAt           time.Time      `json:"expiresAt"`
	SelectedVariationID string         `json:"selectedVariationId,omitempty"`
	Variations          []apiVariation `json:"variations"`
	Error               *apiError      `json:"error,omitempty"`
}

type apiVariation struct {
	ID           string   `json:"id"`
	Index        int      `json:"index"`
	Status       string   `json:"status"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client talks to the generation service over HTTP. Every call carries the API key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	verbose    bool
}

var _ provider.Client = (*Client)(nil)

// New returns a client for cfg. An empty BaseURL uses DefaultBaseURL and a missing
// API key is rejected with provider.ErrAPIKeyRequired.
func New(cfg *provider.Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		verbose: cfg.Verbose,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit posts req and returns the session id and gallery URL. Non-2xx statuses map to
// the provider error taxonomy.
func (c *Client) Submit(ctx context.Context, req *models.GenerationRequest) (*models.Submission, error) {
	jsonData, err := json.Marshal(apiRequest{
		Description: req.Description,
		Framework:   req.Framework.String(),
		Styling:     req.Styling.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/generate", jsonData)
	if err != nil {
		return nil, err
	}

	var apiResp apiSubmission
	if len(body) > 0 {
		if err := json.Unmarshal(body, &apiResp); err != nil && status < 300 {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	if err := statusError(status, apiResp.Error); err != nil {
		return nil, err
	}

	if apiResp.SessionID == "" {
		return nil, fmt.Errorf("%w: response has no session id", provider.ErrGenerationFailed)
	}

	return &models.Submission{
		SessionID:  apiResp.SessionID,
		GalleryURL: apiResp.GalleryURL,
	}, nil
}

// GetSession fetches the current state of sessionID, including its variations.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	endpoint := c.baseURL + "/api/sessions/" + url.PathEscape(sessionID)
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var apiResp apiSession
	if len(body) > 0 {
		if err := json.Unmarshal(body, &apiResp); err != nil && status < 300 {
			return nil, fmt.Errorf("session %s: %w: failed to parse session: %v", sessionID, provider.ErrTransient, err)
		}
	}

	if err := statusError(status, apiResp.Error); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	return buildSession(&apiResp), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-API-Key", c.apiKey)

	c.logRequest(method, endpoint, httpReq.Header, payload)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", provider.ErrTransient, err)
	}

	c.logResponse(resp.StatusCode, body)

	return resp.StatusCode, body, nil
}

func statusError(status int, apiErr *apiError) error {
	if status >= 200 && status < 300 {
		if apiErr != nil {
			return fmt.Errorf("%w: %s", provider.ErrGenerationFailed, apiErr.Message)
		}
		return nil
	}

	msg := fmt.Sprintf("status %d", status)
	if apiErr != nil && apiErr.Message != "" {
		msg = fmt.Sprintf("%s (status %d)", apiErr.Message, status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", provider.ErrAuthentication, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrSessionNotFound, msg)
	case status == http.StatusGone:
		return fmt.Errorf("%w: %s", provider.ErrSessionExpired, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", provider.ErrValidation, msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s", provider.ErrTransient, msg)
	default:
		return fmt.Errorf("%w: %s", provider.ErrGenerationFailed, msg)
	}
}

func buildSession(apiResp *apiSession) *models.Session {
	sess := &models.Session{
		ID:                  apiResp.ID,
		Status:              models.SessionStatus(apiResp.Status),
		CreatedAt:           apiResp.CreatedAt,
		ExpiresAt:           apiResp.ExpiresAt,
		SelectedVariationID: apiResp.SelectedVariationID,
		Variations:          make([]models.Variation, 0, len(apiResp.Variations)),
	}

	for _, v := range apiResp.Variations {
		sess.Variations = append(sess.Variations, models.Variation{
			ID:           v.ID,
			Index:        v.Index,
			Status:       models.VariationStatus(v.Status),
			Code:         v.Code,
			Name:         v.Name,
			Description:  v.Description,
			Dependencies: v.Dependencies,
		})
	}

	return sess
}

func (c *Client) logRequest(method, endpoint string, headers http.Header, body []byte) {
	if !c.verbose {
		return
	}

	redacted := make(map[string]string, len(headers))
	for key := range headers {
		value := headers.Get(key)
		switch strings.ToLower(key) {
		case "authorization", "x-api-key":
			value = "[REDACTED]"
		}
		redacted[key] = value
	}

	c.logger.Debug("remote request",
		"method", method,
		"url", endpoint,
		"headers", redacted,
		"body", string(body))
}

func (c *Client) logResponse(statusCode int, body []byte) {
	if !c.verbose {
		return
	}

	c.logger.Debug("remote response",
		"status", statusCode,
		"body", string(truncateCodeInJSON(body)))
}

func truncateCodeInJSON(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	truncateCodeFields(data)

	result, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return result
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func truncateCodeFields(data map[string]interface{}) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if key == "code" && len(v) > maxLoggedCode {
				data[key] = truncateUTF8(v, maxLoggedCode) + "... [truncated]"
			}
		case map[string]interface{}:
			truncateCodeFields(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					truncateCodeFields(m)
				}
			}
		}
	}
}
